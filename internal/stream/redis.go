package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pricetrail.io/internal/obs"
)

// relayBuffer is how many events may wait for Redis before new ones are dropped.
const relayBuffer = 256

// RedisRelay publishes events locally and to a Redis channel, and replays
// events published by other instances into the local hub. The Redis side is
// fed from a bounded queue drained by Run, so a slow or absent Redis never
// holds up the write that produced the event.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	origin  string
	logger  *zap.Logger
	timeout time.Duration
	out     chan Event
}

// NewRedisRelay wires hub to channel on client.
func NewRedisRelay(client redis.UniversalClient, channel string, hub *Hub, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		origin:  uuid.NewString(),
		logger:  logger.Named("stream.redis"),
		timeout: 2 * time.Second,
		out:     make(chan Event, relayBuffer),
	}
}

// Publish delivers evt to local subscribers and queues it for Redis. It
// never blocks; when the queue is full the Redis copy is dropped.
func (r *RedisRelay) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	evt.Origin = r.origin
	r.hub.Publish(evt)

	select {
	case r.out <- evt:
	default:
		obs.ChangeEventsDropped.Inc()
		r.logger.Warn("redis relay queue full, dropping change event",
			zap.String("topic", string(evt.Topic)),
			zap.String("key", evt.Key))
	}
}

// forward drains the queue into Redis until ctx ends.
func (r *RedisRelay) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-r.out:
			r.send(ctx, evt)
		}
	}
}

func (r *RedisRelay) send(ctx context.Context, evt Event) {
	payload, err := encodeEvent(evt)
	if err != nil {
		r.logger.Warn("encode change event", zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("publish change event",
			zap.String("topic", string(evt.Topic)),
			zap.String("key", evt.Key),
			zap.Error(err))
	}
}

// Run forwards queued local events to Redis and relays remote events into
// the hub until ctx ends. Forwarding continues even when the subscription
// fails.
func (r *RedisRelay) Run(ctx context.Context) error {
	go r.forward(ctx)

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			evt, err := decodeEvent(msg.Payload)
			if err != nil {
				r.logger.Warn("decode change event", zap.Error(err))
				continue
			}
			if evt.Origin == r.origin {
				continue
			}
			r.hub.Publish(evt)
		}
	}
}

func encodeEvent(evt Event) (string, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeEvent(payload string) (Event, error) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return Event{}, err
	}
	if evt.Topic == "" {
		return Event{}, errors.New("event topic missing")
	}
	return evt, nil
}
