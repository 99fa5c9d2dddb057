package auth

import (
	"strings"
	"time"
)

// Account types accepted at sign-up. The tag is informational; privileges
// come from the permission record.
const (
	AccountTypeUser  = "user"
	AccountTypeAdmin = "admin"
)

// Session change events delivered to subscribers.
const (
	EventSignedIn       = "SIGNED_IN"
	EventSignedOut      = "SIGNED_OUT"
	EventTokenRefreshed = "TOKEN_REFRESHED"
	EventUserUpdated    = "USER_UPDATED"
)

// Identity is the local view of an authenticated caller.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AccountType string `json:"account_type"`
	SessionID   string `json:"-"`
}

// UserName is the name permission records are matched on before they are
// linked: the display name, or the email local part when no name is set.
func (i Identity) UserName() string {
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	email := strings.TrimSpace(i.Email)
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

// Actor is the label written to audit records.
func (i Identity) Actor() string {
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	return i.Email
}

// Account is the stored credential record behind an Identity.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	AccountType  string    `json:"account_type"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity projects the account into the caller identity.
func (a Account) Identity() Identity {
	return Identity{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		AccountType: a.AccountType,
	}
}

// Session backs one refresh token; access tokens reference it by id.
type Session struct {
	ID          string
	AccountID   string
	RefreshHash string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// Active reports whether the session can still authenticate requests.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// TokenPair is returned by sign-in, sign-up and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// SignUpInput carries credentials plus profile metadata.
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
	AccountType string
}

// ProfileUpdate changes name and email; empty fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string
	Email       *string
}
