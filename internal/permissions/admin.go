package permissions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pricetrail.io/internal/ids"
)

const maxUserNameLength = 120

// Admin manages permission records on behalf of administrators. Callers
// gate access with Resolver.Require(..., IsAdmin).
type Admin struct {
	store Store
	now   func() time.Time
}

// NewAdmin builds an Admin over store.
func NewAdmin(store Store) *Admin {
	return &Admin{store: store, now: time.Now}
}

// List returns all records ordered by user name.
func (a *Admin) List(ctx context.Context) ([]Record, error) {
	return a.store.List(ctx)
}

// Create adds an unlinked record for userName; it links on that user's first sign-in.
func (a *Admin) Create(ctx context.Context, userName string, flags Flags) (Record, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return Record{}, fmt.Errorf("%w: user_name is required", ErrInvalidInput)
	}
	if len(userName) > maxUserNameLength {
		return Record{}, fmt.Errorf("%w: user_name is too long", ErrInvalidInput)
	}
	taken, err := a.store.UserNameTaken(ctx, userName)
	if err != nil {
		return Record{}, err
	}
	if taken {
		return Record{}, fmt.Errorf("%w: user %q already has a permission record", ErrConflict, userName)
	}
	return a.store.Create(ctx, Record{
		ID:        ids.New(),
		UserName:  userName,
		CreatedAt: a.now().UTC(),
		Flags:     flags,
	})
}

// Update replaces the flags of record id.
func (a *Admin) Update(ctx context.Context, id string, flags Flags) (Record, error) {
	if !ids.Valid(id) {
		return Record{}, fmt.Errorf("%w: invalid record id", ErrInvalidInput)
	}
	return a.store.UpdateFlags(ctx, id, flags)
}

// Delete removes record id. The user gets a fresh default record on next sign-in.
func (a *Admin) Delete(ctx context.Context, id string) error {
	if !ids.Valid(id) {
		return fmt.Errorf("%w: invalid record id", ErrInvalidInput)
	}
	return a.store.Delete(ctx, id)
}
