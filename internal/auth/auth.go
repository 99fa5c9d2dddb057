package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "pricetrail"

// Claims represents the access token payload.
type Claims struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	AccountType string `json:"account_type"`
	SessionID   string `json:"sid"`
	jwt.RegisteredClaims
}

// tokenSigner signs and verifies HS256 access tokens.
type tokenSigner struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func (ts *tokenSigner) sign(account Account, sessionID string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(account.ID) == "" {
		return "", time.Time{}, errors.New("account id is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	now := ts.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Email:       account.Email,
		Name:        account.DisplayName,
		AccountType: account.AccountType,
		SessionID:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// parse verifies the signature and required claims.
func (ts *tokenSigner) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return ts.secret, nil
	},
		jwt.WithIssuer(ts.issuer),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.SessionID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
