//go:build integration

package pg

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/catalog"
	"pricetrail.io/internal/ids"
	"pricetrail.io/internal/migrate"
	"pricetrail.io/internal/permissions"
	"pricetrail.io/migrations"
)

func startPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "pricetrail",
				"POSTGRES_USER":     "pricetrail",
				"POSTGRES_PASSWORD": "pricetrail",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://pricetrail:pricetrail@%s:%s/pricetrail?sslmode=disable", host, port.Port())
	store, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.Eventually(t, func() bool { return store.Ping(ctx) == nil }, 10*time.Second, 200*time.Millisecond)

	mgr := migrate.NewManager(store.DB(), migrations.FS)
	require.NoError(t, mgr.Up(ctx))
	require.NoError(t, mgr.Seed(ctx))
	return store
}

func TestIntegrationConcurrentResolve(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	_, err := store.Create(ctx, permissions.Record{ID: ids.New(), UserName: "racer", CreatedAt: time.Now().UTC(),
		Flags: permissions.Flags{AddProduct: true}})
	require.NoError(t, err)

	const n = 12
	got := make([]permissions.Record, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _, errs[i] = store.Resolve(ctx, "user-racer", "racer", ids.New())
		}(i)
	}
	wg.Wait()

	for i := range got {
		require.NoError(t, errs[i])
		assert.Equal(t, got[0].ID, got[i].ID)
		assert.True(t, got[i].AddProduct)
	}

	all, err := store.List(ctx)
	require.NoError(t, err)
	linked := 0
	for _, rec := range all {
		if rec.UserID == "user-racer" {
			linked++
		}
	}
	assert.Equal(t, 1, linked)
}

func TestIntegrationAdminOnlyByBootstrapEmail(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	// A fresh schema holds no permission rows, so the name "admin" links to nothing.
	rec, outcome, err := store.Resolve(ctx, "user-eve", "admin", ids.New())
	require.NoError(t, err)
	assert.Equal(t, permissions.OutcomeCreated, outcome)
	assert.Equal(t, permissions.Flags{}, rec.Flags)

	r := permissions.NewResolver(store, nil, permissions.WithBootstrapAdmins("root@example.com"))
	root, err := r.Resolve(ctx, auth.Identity{ID: "user-root", Email: "root@example.com", DisplayName: "admin"})
	require.NoError(t, err)
	assert.Equal(t, permissions.AllFlags(), root.Flags)

	stored, err := store.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsAdmin)
}

func TestIntegrationCatalogRoundTrip(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	_, err := store.InsertProduct(ctx, catalog.Product{Code: "P100", Description: "Steel bolt", Unit: "box"})
	require.NoError(t, err)
	date, err := catalog.ParseDate("2024-03-01")
	require.NoError(t, err)
	_, err = store.InsertPricePoint(ctx, catalog.PricePoint{ProductCode: "P100", EffectiveDate: date, UnitPrice: decimal.RequireFromString("19.99")})
	require.NoError(t, err)

	_, err = store.InsertPricePoint(ctx, catalog.PricePoint{ProductCode: "P100", EffectiveDate: date, UnitPrice: decimal.RequireFromString("5.00")})
	assert.ErrorIs(t, err, catalog.ErrConflict)

	rows, err := store.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "$19.99", catalog.ListingOf(rows[0]).DisplayPrice)

	_, err = store.SetDeleted(ctx, "P100", false)
	assert.ErrorIs(t, err, catalog.ErrNotDeleted)
}
