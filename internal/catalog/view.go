package catalog

import (
	"context"
	"sync"
	"time"

	"pricetrail.io/internal/stream"
)

// DefaultViewMaxAge bounds how long a snapshot is served without a reload.
const DefaultViewMaxAge = 5 * time.Second

// View holds the last joined catalog read. It is invalidated by product and
// pricehist change events and by local writes, and reloaded on the next read.
// Writers that publish no events, such as a replica without Redis or a manual
// SQL fix, become visible once the snapshot is older than the max age.
type View struct {
	store  Store
	maxAge time.Duration
	now    func() time.Time

	mu       sync.Mutex
	rows     []ProductPrices
	valid    bool
	loadedAt time.Time
	gen      uint64
}

// ViewOption customises a View.
type ViewOption func(*View)

// WithMaxAge sets the snapshot lifetime. Non-positive values keep the default.
func WithMaxAge(d time.Duration) ViewOption {
	return func(v *View) {
		if d > 0 {
			v.maxAge = d
		}
	}
}

// WithViewClock overrides the clock used to age snapshots.
func WithViewClock(now func() time.Time) ViewOption {
	return func(v *View) {
		if now != nil {
			v.now = now
		}
	}
}

// NewView builds an empty View over store.
func NewView(store Store, opts ...ViewOption) *View {
	v := &View{store: store, maxAge: DefaultViewMaxAge, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Rows returns the catalog, loading it when the snapshot is stale.
func (v *View) Rows(ctx context.Context) ([]ProductPrices, error) {
	v.mu.Lock()
	if v.valid && v.now().Sub(v.loadedAt) < v.maxAge {
		rows := v.rows
		v.mu.Unlock()
		return rows, nil
	}
	gen := v.gen
	v.mu.Unlock()

	started := v.now()
	rows, err := v.store.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	if v.gen == gen {
		v.rows = rows
		v.valid = true
		v.loadedAt = started
	}
	v.mu.Unlock()
	return rows, nil
}

// Invalidate drops the snapshot. A load racing with Invalidate is discarded.
func (v *View) Invalidate() {
	v.mu.Lock()
	v.valid = false
	v.rows = nil
	v.gen++
	v.mu.Unlock()
}

// Watch invalidates the view on every product or pricehist event until ctx ends.
func (v *View) Watch(ctx context.Context, sub stream.Subscriber) {
	for range sub.Subscribe(ctx, stream.TopicProduct, stream.TopicPriceHist) {
		v.Invalidate()
	}
}
