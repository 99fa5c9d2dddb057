package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pricetrail.io/internal/auth"
)

var _ auth.Store = (*Store)(nil)

const accountColumns = `id, email, display_name, account_type, password_hash, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (auth.Account, error) {
	var a auth.Account
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.AccountType, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func accountErr(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows), isPgCode(err, pgErrInvalidText):
		return auth.ErrNotFound
	case isPgCode(err, pgErrUniqueViolation):
		return auth.ErrConflict
	}
	return err
}

func (s *Store) CreateAccount(ctx context.Context, a auth.Account) (auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into accounts (id, email, display_name, account_type, password_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+accountColumns,
		a.ID, a.Email, a.DisplayName, a.AccountType, a.PasswordHash, a.CreatedAt, a.UpdatedAt)
	created, err := scanAccount(row)
	if err != nil {
		return auth.Account{}, accountErr(err)
	}
	return created, nil
}

func (s *Store) AccountByID(ctx context.Context, id string) (auth.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id))
	if err != nil {
		return auth.Account{}, accountErr(err)
	}
	return a, nil
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (auth.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where email = $1`, email))
	if err != nil {
		return auth.Account{}, accountErr(err)
	}
	return a, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a auth.Account) (auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update accounts
		set email = $2, display_name = $3, updated_at = $4
		where id = $1
		returning `+accountColumns,
		a.ID, a.Email, a.DisplayName, a.UpdatedAt)
	updated, err := scanAccount(row)
	if err != nil {
		return auth.Account{}, accountErr(err)
	}
	return updated, nil
}

func (s *Store) CreateSession(ctx context.Context, session auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, account_id, refresh_hash, created_at, expires_at)
		values ($1, $2, $3, $4, $5)
	`, session.ID, session.AccountID, session.RefreshHash, session.CreatedAt, session.ExpiresAt)
	if isPgCode(err, pgErrForeignKeyViolation) {
		return auth.ErrNotFound
	}
	return accountErr(err)
}

func (s *Store) SessionByID(ctx context.Context, id string) (auth.Session, error) {
	var (
		session auth.Session
		revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, account_id, refresh_hash, created_at, expires_at, revoked_at
		from sessions where id = $1
	`, id).Scan(&session.ID, &session.AccountID, &session.RefreshHash, &session.CreatedAt, &session.ExpiresAt, &revoked)
	if err != nil {
		return auth.Session{}, accountErr(err)
	}
	if revoked.Valid {
		session.RevokedAt = &revoked.Time
	}
	return session, nil
}

func (s *Store) RevokeSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set revoked_at = coalesce(revoked_at, $2) where id = $1
	`, id, at)
	if err != nil {
		return accountErr(err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ErrNotFound
	}
	return nil
}
