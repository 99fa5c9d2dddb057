package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pricetrail.io/internal/ids"
	"pricetrail.io/internal/obs"
	"pricetrail.io/internal/stream"
)

const defaultAppendTimeout = 5 * time.Second

// Recorder appends product audit records in the background. A failed
// append is logged and counted; the product change it describes stays
// committed and is not retried.
type Recorder struct {
	store     Store
	publisher stream.Publisher
	logger    *zap.Logger
	now       func() time.Time
	timeout   time.Duration

	wg sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithPublisher announces successful appends on the product_audit topic.
func WithPublisher(p stream.Publisher) RecorderOption {
	return func(r *Recorder) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithAppendTimeout bounds each background append.
func WithAppendTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRecorder builds a Recorder over store.
func NewRecorder(store Store, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:     store,
		publisher: stream.Discard{},
		logger:    logger.Named("audit"),
		now:       time.Now,
		timeout:   defaultAppendTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record schedules an append and returns immediately. The timestamp is
// taken here, before the append is attempted.
func (r *Recorder) Record(ctx context.Context, productCode, productName string, action Action, performedBy string) {
	now := r.now().UTC()
	rec := Record{
		ID:          ids.NewAt(now),
		ProductCode: productCode,
		ProductName: productName,
		Action:      action,
		PerformedBy: performedBy,
		Timestamp:   now,
	}
	requestID := RequestIDFromContext(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if err := r.store.Append(appendCtx, rec); err != nil {
			obs.AuditWriteFailures.Inc()
			r.logger.Error("audit append failed",
				zap.String("request_id", requestID),
				zap.String("product_code", rec.ProductCode),
				zap.String("action", string(rec.Action)),
				zap.String("performed_by", rec.PerformedBy),
				zap.Error(err))
			return
		}
		r.publisher.Publish(stream.Event{
			Topic: stream.TopicAudit,
			Op:    stream.OpInsert,
			Key:   rec.ProductCode,
			At:    rec.Timestamp,
		})
	}()
}

// Wait blocks until scheduled appends finish. Called on shutdown and in tests.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
