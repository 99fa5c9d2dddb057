package auth

import (
	"context"
	"time"
)

// Store persists accounts and sessions.
type Store interface {
	CreateAccount(ctx context.Context, account Account) (Account, error)
	AccountByID(ctx context.Context, id string) (Account, error)
	AccountByEmail(ctx context.Context, email string) (Account, error)
	UpdateAccount(ctx context.Context, account Account) (Account, error)

	CreateSession(ctx context.Context, session Session) error
	SessionByID(ctx context.Context, id string) (Session, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error
}
