package audit

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"pricetrail.io/internal/stream"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []Record
	appendErr error
	block     chan struct{}
}

func (s *fakeStore) Append(ctx context.Context, rec Record) error {
	if s.block != nil {
		<-s.block
	}
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if filter.PerformedBy != "" && rec.PerformedBy != filter.PerformedBy {
			continue
		}
		if filter.Action != "" && rec.Action != filter.Action {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) Performers(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, rec := range s.records {
		if _, ok := seen[rec.PerformedBy]; !ok {
			seen[rec.PerformedBy] = struct{}{}
			out = append(out, rec.PerformedBy)
		}
	}
	sort.Strings(out)
	return out, nil
}

func TestRecorderAppendsInBackground(t *testing.T) {
	store := &fakeStore{block: make(chan struct{})}
	hub := stream.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Subscribe(ctx, stream.TopicAudit)

	fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	rec := NewRecorder(store, zap.NewNop(), WithClock(func() time.Time { return fixed }), WithPublisher(hub))

	done := make(chan struct{})
	go func() {
		rec.Record(ctx, "P100", "Green tea", ActionDeleted, "alice")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on the store")
	}

	close(store.block)
	rec.Wait()

	records, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ActionDeleted, records[0].Action)
	assert.Equal(t, "P100", records[0].ProductCode)
	assert.Equal(t, fixed, records[0].Timestamp)
	assert.NotEmpty(t, records[0].ID)

	select {
	case evt := <-events:
		assert.Equal(t, stream.TopicAudit, evt.Topic)
		assert.Equal(t, "P100", evt.Key)
	case <-time.After(time.Second):
		t.Fatal("expected product_audit event")
	}
}

func TestRecorderSurvivesCanceledRequestContext(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Record(ctx, "P1", "Widget", ActionAdded, "bob")
	rec.Wait()

	records, _ := store.List(context.Background(), Filter{})
	require.Len(t, records, 1)
}

func TestRecorderLogsFailureWithoutPanicking(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &fakeStore{appendErr: errors.New("db down")}
	rec := NewRecorder(store, zap.New(core))

	ctx := WithRequestID(context.Background(), "req-9")
	rec.Record(ctx, "P1", "Widget", ActionEdited, "bob")
	rec.Wait()

	entries := logs.FilterMessage("audit append failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "EDITED", fields["action"])
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" recovered ")
	require.NoError(t, err)
	assert.Equal(t, ActionRecovered, a)

	_, err = ParseAction("PURGED")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTrailExportWritesWorkbook(t *testing.T) {
	store := &fakeStore{}
	ts := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(context.Background(), Record{ID: "1", ProductCode: "P1", ProductName: "Widget", Action: ActionAdded, PerformedBy: "alice", Timestamp: ts}))
	require.NoError(t, store.Append(context.Background(), Record{ID: "2", ProductCode: "P2", ProductName: "Gadget", Action: ActionDeleted, PerformedBy: "bob", Timestamp: ts.Add(time.Hour)}))

	trail := NewTrail(store)
	var buf bytes.Buffer
	require.NoError(t, trail.Export(context.Background(), Filter{PerformedBy: "bob"}, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Product code", rows[0][1])
	assert.Equal(t, "P2", rows[1][1])
	assert.Equal(t, "DELETED", rows[1][3])
}

func TestTrailGroupsByPerformer(t *testing.T) {
	store := &fakeStore{}
	for _, who := range []string{"alice", "bob", "alice"} {
		require.NoError(t, store.Append(context.Background(), Record{PerformedBy: who, Action: ActionEdited}))
	}
	grouped, err := NewTrail(store).ByPerformer(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, grouped["alice"], 2)
	assert.Len(t, grouped["bob"], 1)

	performers, err := NewTrail(store).Performers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, performers)
}
