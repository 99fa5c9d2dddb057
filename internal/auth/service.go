package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pricetrail.io/internal/stream"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
	minSecretLength   = 16
	maxDisplayName    = 120
)

// Service is the auth provider: sign-up, sign-in, refresh, sign-out,
// profile updates and token-to-identity resolution.
type Service struct {
	store     Store
	signer    tokenSigner
	hasher    passwordHasher
	validate  *validator.Validate
	publisher stream.Publisher
	logger    *zap.Logger
	now       func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.signer.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures session lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
			s.signer.now = fn
		}
		return nil
	}
}

// WithPasswordCost sets the bcrypt cost.
func WithPasswordCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("auth: bcrypt cost %d out of range", cost)
		}
		s.hasher.cost = cost
		return nil
	}
}

// WithPublisher routes session change events to p.
func WithPublisher(p stream.Publisher) ServiceOption {
	return func(s *Service) error {
		if p != nil {
			s.publisher = p
		}
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l.Named("auth")
		}
		return nil
	}
}

// NewService constructs Service. secret signs access tokens.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if len(strings.TrimSpace(secret)) < minSecretLength {
		return nil, fmt.Errorf("auth: secret must be at least %d bytes", minSecretLength)
	}
	svc := &Service{
		store:      store,
		signer:     tokenSigner{secret: []byte(secret), issuer: defaultIssuer, now: time.Now},
		hasher:     passwordHasher{cost: bcrypt.DefaultCost},
		validate:   validator.New(),
		publisher:  stream.Discard{},
		logger:     zap.NewNop(),
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// SignUp registers an account and opens its first session.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (Account, TokenPair, error) {
	email, err := s.normalizeEmail(in.Email)
	if err != nil {
		return Account{}, TokenPair{}, err
	}
	name := strings.TrimSpace(in.DisplayName)
	if len(name) > maxDisplayName {
		return Account{}, TokenPair{}, fmt.Errorf("%w: name is too long", ErrInvalidInput)
	}
	accountType := strings.ToLower(strings.TrimSpace(in.AccountType))
	switch accountType {
	case "":
		accountType = AccountTypeUser
	case AccountTypeUser, AccountTypeAdmin:
	default:
		return Account{}, TokenPair{}, fmt.Errorf("%w: unknown account type %q", ErrInvalidInput, in.AccountType)
	}
	hash, err := s.hasher.hash(in.Password)
	if err != nil {
		return Account{}, TokenPair{}, err
	}

	now := s.now().UTC()
	account, err := s.store.CreateAccount(ctx, Account{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  name,
		AccountType:  accountType,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Account{}, TokenPair{}, err
	}
	pair, sessionID, err := s.openSession(ctx, account)
	if err != nil {
		return Account{}, TokenPair{}, err
	}
	s.emit(EventSignedIn, account.ID, sessionID)
	return account, pair, nil
}

// SignIn verifies credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Account, TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Account{}, TokenPair{}, ErrInvalidCredentials
	}
	account, err := s.store.AccountByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		_ = s.hasher.verify("", password)
		return Account{}, TokenPair{}, ErrInvalidCredentials
	case err != nil:
		return Account{}, TokenPair{}, err
	}
	if err := s.hasher.verify(account.PasswordHash, password); err != nil {
		return Account{}, TokenPair{}, err
	}
	pair, sessionID, err := s.openSession(ctx, account)
	if err != nil {
		return Account{}, TokenPair{}, err
	}
	s.emit(EventSignedIn, account.ID, sessionID)
	return account, pair, nil
}

// Refresh rotates the session behind refreshToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Account, TokenPair, error) {
	sessionID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return Account{}, TokenPair{}, ErrInvalidToken
	}
	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, TokenPair{}, ErrInvalidToken
		}
		return Account{}, TokenPair{}, err
	}
	now := s.now().UTC()
	if !session.Active(now) {
		return Account{}, TokenPair{}, ErrInvalidToken
	}
	if !secureCompareHash(session.RefreshHash, secret) {
		_ = s.store.RevokeSession(ctx, session.ID, now)
		return Account{}, TokenPair{}, ErrInvalidToken
	}
	account, err := s.store.AccountByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, TokenPair{}, ErrInvalidToken
		}
		return Account{}, TokenPair{}, err
	}
	if err := s.store.RevokeSession(ctx, session.ID, now); err != nil {
		return Account{}, TokenPair{}, err
	}
	pair, newID, err := s.openSession(ctx, account)
	if err != nil {
		return Account{}, TokenPair{}, err
	}
	s.emit(EventTokenRefreshed, account.ID, newID)
	return account, pair, nil
}

// SignOut revokes the caller's session; its access tokens stop working.
func (s *Service) SignOut(ctx context.Context, identity Identity) error {
	if identity.SessionID == "" {
		return ErrUnauthorized
	}
	if err := s.store.RevokeSession(ctx, identity.SessionID, s.now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	s.emit(EventSignedOut, identity.ID, identity.SessionID)
	return nil
}

// Authenticate resolves a bearer access token to the current identity.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := s.signer.parse(token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	session, err := s.store.SessionByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, err
	}
	if session.AccountID != claims.Subject || !session.Active(s.now().UTC()) {
		return Identity{}, ErrInvalidToken
	}
	account, err := s.store.AccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, err
	}
	identity := account.Identity()
	identity.SessionID = session.ID
	return identity, nil
}

// UpdateProfile changes the caller's display name and email.
func (s *Service) UpdateProfile(ctx context.Context, identity Identity, upd ProfileUpdate) (Account, error) {
	if upd.DisplayName == nil && upd.Email == nil {
		return Account{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	account, err := s.store.AccountByID(ctx, identity.ID)
	if err != nil {
		return Account{}, err
	}
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if len(name) > maxDisplayName {
			return Account{}, fmt.Errorf("%w: name is too long", ErrInvalidInput)
		}
		account.DisplayName = name
	}
	if upd.Email != nil {
		email, err := s.normalizeEmail(*upd.Email)
		if err != nil {
			return Account{}, err
		}
		account.Email = email
	}
	account.UpdatedAt = s.now().UTC()
	updated, err := s.store.UpdateAccount(ctx, account)
	if err != nil {
		return Account{}, err
	}
	s.emit(EventUserUpdated, updated.ID, identity.SessionID)
	return updated, nil
}

func (s *Service) normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return "", fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	return email, nil
}

func (s *Service) openSession(ctx context.Context, account Account) (TokenPair, string, error) {
	now := s.now().UTC()
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return TokenPair{}, "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	session := Session{
		ID:          uuid.NewString(),
		AccountID:   account.ID,
		RefreshHash: hex.EncodeToString(sum[:]),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.refreshTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return TokenPair{}, "", err
	}
	access, accessExp, err := s.signer.sign(account, session.ID, s.accessTTL)
	if err != nil {
		return TokenPair{}, "", err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     session.ID + "." + secret,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: session.ExpiresAt,
	}, session.ID, nil
}

func (s *Service) emit(event, accountID, sessionID string) {
	s.logger.Debug("session change",
		zap.String("event", event),
		zap.String("account_id", accountID))
	s.publisher.Publish(stream.Event{
		Topic:   stream.TopicAuth,
		Op:      event,
		Key:     sessionID,
		Subject: accountID,
		At:      s.now().UTC(),
	})
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
