package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

// Event names written to the "event" field of each stream entry.
const (
	EventRunStarted    = "seed.run.started"
	EventBatchStarted  = "seed.batch.started"
	EventSpeciesFailed = "seed.species.failed"
	EventRunCompleted  = "seed.run.completed"
)

const (
	DefaultStream = "pokedex.seed.events"

	streamMaxLen   = 10_000
	bufferSize     = 256
	publishTimeout = 2 * time.Second
)

// StreamAdder is the single Redis command the publisher needs.
// *redis.Client satisfies it.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

type event struct {
	name string
	data any
}

// RedisStreamPublisher publishes seed run events to a Redis stream. It
// implements seeder.Reporter; events are queued and written by a background
// goroutine so seeding never waits on Redis. Events are dropped when the
// queue is full.
type RedisStreamPublisher struct {
	client StreamAdder
	stream string
	log    *slog.Logger

	events  chan event
	dropped atomic.Int64
	failed  atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRedisStreamPublisher creates a new Redis stream publisher from existing client
func NewRedisStreamPublisher(client StreamAdder, stream string, logger *slog.Logger) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &RedisStreamPublisher{
		client: client,
		stream: stream,
		log:    logger.With("component", "publisher"),
		events: make(chan event, bufferSize),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

// Close flushes queued events and stops the publisher.
func (p *RedisStreamPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()

	<-p.done
	return nil
}

// Dropped is the number of events discarded because the queue was full.
func (p *RedisStreamPublisher) Dropped() int64 { return p.dropped.Load() }

// Failed is the number of events Redis rejected.
func (p *RedisStreamPublisher) Failed() int64 { return p.failed.Load() }

func (p *RedisStreamPublisher) OnRunStart(info seeder.RunInfo) {
	p.enqueue(EventRunStarted, info)
}

func (p *RedisStreamPublisher) OnBatchStart(info seeder.BatchInfo) {
	p.enqueue(EventBatchStarted, info)
}

// OnOutcome publishes failures only; successes are summarized by the
// completion event.
func (p *RedisStreamPublisher) OnOutcome(o seeder.Outcome) {
	if o.State == seeder.StateFailed {
		p.enqueue(EventSpeciesFailed, o)
	}
}

func (p *RedisStreamPublisher) OnRunComplete(res *seeder.Result) {
	p.enqueue(EventRunCompleted, res)
}

func (p *RedisStreamPublisher) enqueue(name string, data any) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.events <- event{name: name, data: data}:
	default:
		p.dropped.Add(1)
	}
}

func (p *RedisStreamPublisher) loop() {
	defer close(p.done)

	for ev := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.Publish(ctx, ev.name, ev.data); err != nil {
			p.failed.Add(1)
			p.log.Warn("failed to publish event", "event", ev.name, "stream", p.stream, "error", err)
		}
		cancel()
	}
}

// Publish writes one event synchronously.
func (p *RedisStreamPublisher) Publish(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event":     name,
			"data":      string(data),
			"timestamp": time.Now().Unix(),
		},
	}).Err()
}
