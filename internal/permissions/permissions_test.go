package permissions_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/ids"
	"pricetrail.io/internal/permissions"
	"pricetrail.io/internal/store/memory"
)

func TestResolveCreatesDefaultRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := permissions.NewResolver(store, nil)

	who := auth.Identity{ID: "u-1", Email: "ada@example.com"}
	rec, err := r.Resolve(ctx, who)
	require.NoError(t, err)
	assert.Equal(t, "u-1", rec.UserID)
	assert.Equal(t, "ada", rec.UserName)
	assert.Equal(t, permissions.Flags{}, rec.Flags)
	assert.True(t, ids.Valid(rec.ID))

	again, err := r.Resolve(ctx, who)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)

	caps, err := r.Capabilities(ctx, who)
	require.NoError(t, err)
	assert.Empty(t, caps.Granted())
}

func TestResolveLinksPreprovisionedRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	admin := permissions.NewAdmin(store)
	r := permissions.NewResolver(store, nil)

	pre, err := admin.Create(ctx, "Ada", permissions.Flags{AddProduct: true, EditProduct: true})
	require.NoError(t, err)
	assert.Empty(t, pre.UserID)

	rec, err := r.Resolve(ctx, auth.Identity{ID: "u-ada", Email: "ada@example.com", DisplayName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, pre.ID, rec.ID)
	assert.Equal(t, "u-ada", rec.UserID)

	// A different user with the same name does not steal the linked record.
	other, err := r.Resolve(ctx, auth.Identity{ID: "u-other", DisplayName: "Ada"})
	require.NoError(t, err)
	assert.NotEqual(t, pre.ID, other.ID)
	assert.False(t, other.AddProduct)

	all, err := admin.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBootstrapAdminMatchesEmailOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := permissions.NewResolver(store, nil, permissions.WithBootstrapAdmins(" Root@Example.com "))

	// Picking the display name "admin" grants nothing.
	pretender, err := r.Resolve(ctx, auth.Identity{ID: "u-1", Email: "eve@example.com", DisplayName: "admin"})
	require.NoError(t, err)
	assert.Equal(t, permissions.Flags{}, pretender.Flags)
	require.ErrorIs(t, r.Require(ctx, auth.Identity{ID: "u-1", Email: "eve@example.com", DisplayName: "admin"}, permissions.IsAdmin), permissions.ErrForbidden)

	root := auth.Identity{ID: "u-2", Email: "root@example.com"}
	rec, err := r.Resolve(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, permissions.AllFlags(), rec.Flags)
	require.NoError(t, r.Require(ctx, root, permissions.AddProduct))

	stored, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, permissions.AllFlags(), stored.Flags)

	// Flags stripped by another admin are restored on the next resolve.
	_, err = permissions.NewAdmin(store).Update(ctx, rec.ID, permissions.Flags{})
	require.NoError(t, err)
	rec, err = r.Resolve(ctx, root)
	require.NoError(t, err)
	assert.True(t, rec.IsAdmin)
}

func TestConcurrentFirstResolveConverges(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := permissions.NewResolver(store, nil)
	who := auth.Identity{ID: "u-race", DisplayName: "Racer"}

	const n = 16
	got := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := r.Resolve(ctx, who)
			if err == nil {
				got[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range got {
		assert.Equal(t, got[0], id)
	}
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRequire(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	admin := permissions.NewAdmin(store)
	r := permissions.NewResolver(store, nil)

	_, err := admin.Create(ctx, "boss", permissions.Flags{IsAdmin: true})
	require.NoError(t, err)
	boss := auth.Identity{ID: "u-boss", DisplayName: "boss"}

	require.NoError(t, r.Require(ctx, boss, permissions.IsAdmin))
	err = r.Require(ctx, boss, permissions.AddProduct)
	assert.True(t, permissions.IsForbidden(err), "admin does not imply product flags")

	err = r.Require(ctx, auth.Identity{}, permissions.AddProduct)
	assert.ErrorIs(t, err, permissions.ErrInvalidInput)
}

type failingStore struct{ permissions.Store }

func (failingStore) Resolve(context.Context, string, string, string) (permissions.Record, permissions.Outcome, error) {
	return permissions.Record{}, "", errors.New("connection refused")
}

func TestLookupFailureDeniesAll(t *testing.T) {
	r := permissions.NewResolver(failingStore{}, nil)
	caps, err := r.Capabilities(context.Background(), auth.Identity{ID: "u-1"})
	require.Error(t, err)
	assert.Empty(t, caps.Granted())
	assert.Error(t, r.Require(context.Background(), auth.Identity{ID: "u-1"}, permissions.AddProduct))
}

func TestCapabilitiesOf(t *testing.T) {
	assert.Empty(t, permissions.CapabilitiesOf(nil).Granted())

	rec := &permissions.Record{Flags: permissions.Flags{IsAdmin: true, AddPriceHistory: true}}
	caps := permissions.CapabilitiesOf(rec)
	assert.Equal(t, []permissions.Capability{permissions.AddPriceHistory, permissions.IsAdmin}, caps.Granted())
	assert.False(t, caps.Allows("unknown"))
}

func TestAdmin(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	admin := permissions.NewAdmin(store)

	rec, err := admin.Create(ctx, " grace ", permissions.Flags{})
	require.NoError(t, err)
	assert.Equal(t, "grace", rec.UserName)

	_, err = admin.Create(ctx, "grace", permissions.Flags{})
	assert.ErrorIs(t, err, permissions.ErrConflict)
	_, err = admin.Create(ctx, "", permissions.Flags{})
	assert.ErrorIs(t, err, permissions.ErrInvalidInput)

	updated, err := admin.Update(ctx, rec.ID, permissions.Flags{DeleteProduct: true})
	require.NoError(t, err)
	assert.True(t, updated.DeleteProduct)
	assert.Equal(t, "grace", updated.UserName)

	_, err = admin.Update(ctx, "nope", permissions.Flags{})
	assert.ErrorIs(t, err, permissions.ErrInvalidInput)
	_, err = admin.Update(ctx, ids.New(), permissions.Flags{})
	assert.ErrorIs(t, err, permissions.ErrNotFound)

	require.NoError(t, admin.Delete(ctx, rec.ID))
	assert.ErrorIs(t, admin.Delete(ctx, rec.ID), permissions.ErrNotFound)
}
