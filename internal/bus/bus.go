// Package bus implements the real-time event fabric on Redis pub/sub.
// Events are best-effort: consumers get what was published while they were
// subscribed, the catalog stays the source of truth, and a publish circuit
// breaker sheds load instead of stalling callers when Redis is down.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/models"
)

// Message is one raw event delivered to a subscriber.
type Message struct {
	Channel string
	Payload []byte
}

// Bus publishes and subscribes to vlog events over Redis.
type Bus struct {
	client  *redis.Client
	logger  *slog.Logger
	breaker *CircuitBreaker

	healthTTL time.Duration
	healthMu  sync.Mutex
	healthAt  time.Time
	healthErr error
}

// New connects to Redis and returns a Bus. The connection is verified once;
// later outages surface through Healthy and the breaker, not here.
func New(cfg config.RedisConfig, log *slog.Logger) (*Bus, error) {
	if log == nil {
		log = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	b := &Bus{
		client:    client,
		logger:    log.With(slog.String("component", "bus")),
		healthTTL: cfg.HealthCheckInterval,
	}
	b.breaker = NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: breakerFailureThreshold,
		BaseCooldown:     breakerBaseCooldown,
		MaxCooldown:      breakerMaxCooldown,
		OnStateChange: func(from, to CircuitState) {
			b.logger.Warn("publish circuit state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return b, nil
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}

// Publish sends a JSON-encoded event on channel. Failures feed the breaker;
// with the breaker open the event is dropped silently apart from a debug log.
func (b *Bus) Publish(ctx context.Context, channel string, event any) error {
	if !b.breaker.Allow() {
		b.logger.Debug("event dropped, circuit open", slog.String("channel", channel))
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.breaker.RecordFailure()
		b.logger.Warn("event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publishing event: %w", err)
	}
	b.breaker.RecordSuccess()
	return nil
}

// Subscribe delivers messages matching the glob patterns until ctx ends.
// Pub/sub control frames and empty payloads are skipped; a consumer that
// cannot keep up loses events rather than blocking the fabric.
func (b *Bus) Subscribe(ctx context.Context, patterns ...string) (<-chan Message, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("subscribe requires at least one pattern")
	}

	sub := b.client.PSubscribe(ctx, patterns...)
	// Wait for the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to %v: %w", patterns, err)
	}

	out := make(chan Message, 64)
	go b.listen(ctx, sub, out)
	return out, nil
}

// listen pumps the pub/sub channel into out. Invalid frames are skipped.
func (b *Bus) listen(ctx context.Context, sub *redis.PubSub, out chan<- Message) {
	defer close(out)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil || msg.Payload == "" {
				continue
			}
			if !json.Valid([]byte(msg.Payload)) {
				b.logger.Debug("skipping invalid event payload", slog.String("channel", msg.Channel))
				continue
			}
			select {
			case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			default:
				// Slow consumer; drop rather than block the fabric.
				b.logger.Debug("subscriber buffer full, dropping event", slog.String("channel", msg.Channel))
			}
		}
	}
}

// Healthy pings Redis, caching the result for the configured interval so
// frequent health probes do not hammer the connection.
func (b *Bus) Healthy(ctx context.Context) error {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()

	if b.healthTTL > 0 && time.Since(b.healthAt) < b.healthTTL {
		return b.healthErr
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b.healthErr = b.client.Ping(pingCtx).Err()
	b.healthAt = time.Now()
	return b.healthErr
}

// BreakerStats exposes the publish breaker snapshot for health reporting.
func (b *Bus) BreakerStats() CircuitStats {
	return b.breaker.Stats()
}

// ResetBreaker closes the publish breaker. Used when an operator knows the
// outage is over and does not want to wait out the cooldown.
func (b *Bus) ResetBreaker() {
	b.breaker.Reset()
}

// Typed publish helpers. Each stamps the discriminator and timestamp.

// PublishProgress emits a progress event on the video's channel and on
// progress:all for dashboard consumers watching every job.
func (b *Bus) PublishProgress(ctx context.Context, ev ProgressEvent) error {
	ev.Type = EventTypeProgress
	if ev.Timestamp.IsZero() {
		ev.Timestamp = models.Now()
	}
	if ev.Qualities == nil {
		ev.Qualities = []EventQuality{}
	}
	if err := b.Publish(ctx, ProgressChannel(ev.VideoID), ev); err != nil {
		return err
	}
	return b.Publish(ctx, ChannelProgressAll, ev)
}

// PublishWorkerStatus emits a worker status change.
func (b *Bus) PublishWorkerStatus(ctx context.Context, ev WorkerStatusEvent) error {
	ev.Type = EventTypeWorkerStatus
	if ev.Timestamp.IsZero() {
		ev.Timestamp = models.Now()
	}
	return b.Publish(ctx, ChannelWorkersStatus, ev)
}

// PublishJobCompleted emits a completion event on jobs:completed and echoes
// it on the video's progress channel.
func (b *Bus) PublishJobCompleted(ctx context.Context, ev JobCompletedEvent) error {
	ev.Type = EventTypeJobCompleted
	if ev.Timestamp.IsZero() {
		ev.Timestamp = models.Now()
	}
	if ev.Qualities == nil {
		ev.Qualities = []EventQuality{}
	}
	if err := b.Publish(ctx, ChannelJobsCompleted, ev); err != nil {
		return err
	}
	return b.Publish(ctx, ProgressChannel(ev.VideoID), ev)
}

// PublishJobFailed emits a failure event.
func (b *Bus) PublishJobFailed(ctx context.Context, ev JobFailedEvent) error {
	ev.Type = EventTypeJobFailed
	if ev.Timestamp.IsZero() {
		ev.Timestamp = models.Now()
	}
	return b.Publish(ctx, ChannelJobsFailed, ev)
}

// PublishCommand sends an operator command to one worker.
func (b *Bus) PublishCommand(ctx context.Context, workerID string, ev CommandEvent) error {
	ev.Type = EventTypeCommand
	if ev.Timestamp.IsZero() {
		ev.Timestamp = models.Now()
	}
	return b.Publish(ctx, CommandChannel(workerID), ev)
}

// PublishCommandBroadcast sends an operator command to every worker at once.
func (b *Bus) PublishCommandBroadcast(ctx context.Context, ev CommandEvent) error {
	ev.Type = EventTypeCommand
	if ev.Timestamp.IsZero() {
		ev.Timestamp = models.Now()
	}
	return b.Publish(ctx, ChannelWorkersCommands, ev)
}

// PublishCommandResponse sends a worker's reply on the per-request channel.
// Query commands stamp their own reply type; anything else gets the generic
// command_response discriminator.
func (b *Bus) PublishCommandResponse(ctx context.Context, ev CommandResponseEvent) error {
	if ev.Type == "" {
		ev.Type = EventTypeCommandResponse
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = models.Now()
	}
	return b.Publish(ctx, ResponseChannel(ev.WorkerID, ev.RequestID), ev)
}

// AwaitResponse subscribes to the per-request response channel and waits for
// the worker's reply or the context deadline.
func (b *Bus) AwaitResponse(ctx context.Context, workerID, requestID string) (*CommandResponseEvent, error) {
	msgs, err := b.Subscribe(ctx, ResponseChannel(workerID, requestID))
	if err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil, ctx.Err()
			}
			var resp CommandResponseEvent
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				continue
			}
			if resp.RequestID != requestID {
				continue
			}
			return &resp, nil
		}
	}
}
