// Package events publishes harvest progress events to Kafka.
//
// The Publisher is an observability.ProgressReporter. Report never blocks
// a pipeline: events are queued and written by a background goroutine,
// and events that do not fit the queue are dropped and counted.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-harvester/internal/observability"
)

// EventTypeHeader names the message header holding the event type.
const EventTypeHeader = "event_type"

// writeTimeout bounds one WriteMessages call.
const writeTimeout = 10 * time.Second

// maxBatch caps the messages handed to one WriteMessages call.
const maxBatch = 100

// MessageWriter writes messages to Kafka. *kafka.Writer satisfies it.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the Kafka writer settings.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic receives the progress events.
	Topic string
	// BatchSize is the maximum number of messages sent together.
	BatchSize int
	// BatchTimeout is the longest a partial batch waits before it is sent.
	BatchTimeout time.Duration
}

// NewWriter creates a Kafka writer for cfg. Messages are keyed by provider
// so one provider's events stay ordered within a partition.
func NewWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Publisher sends progress events to Kafka.
type Publisher struct {
	writer MessageWriter
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan kafka.Message
	done   chan struct{}

	sent    atomic.Int64
	dropped atomic.Int64
}

// Compile-time check that Publisher is a progress reporter.
var _ observability.ProgressReporter = (*Publisher)(nil)

// NewPublisher starts a publisher that queues up to bufferSize events.
func NewPublisher(w MessageWriter, bufferSize int, logger zerolog.Logger) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	p := &Publisher{
		writer: w,
		logger: logger.With().Str("component", "event_publisher").Logger(),
		queue:  make(chan kafka.Message, bufferSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// EventType returns the event type of e, e.g. "harvest.progress.discovery".
func EventType(e observability.ProgressEvent) string {
	return "harvest.progress." + string(e.Phase)
}

// Report queues e for publishing. It drops e when the queue is full or
// the publisher is closed.
func (p *Publisher) Report(e observability.ProgressEvent) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		p.logger.Error().Err(err).Str("provider", e.Provider).Msg("failed to encode progress event")
		return
	}
	msg := kafka.Message{
		Key:     []byte(e.Provider),
		Value:   value,
		Time:    e.At,
		Headers: []kafka.Header{{Key: EventTypeHeader, Value: []byte(EventType(e))}},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.queue <- msg:
	default:
		if p.dropped.Add(1) == 1 {
			p.logger.Warn().Msg("event queue full, dropping progress events")
		}
	}
}

func (p *Publisher) run() {
	defer close(p.done)

	batch := make([]kafka.Message, 0, maxBatch)
	for msg := range p.queue {
		batch = append(batch[:0], msg)
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-p.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		p.write(batch)
	}
}

func (p *Publisher) write(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.dropped.Add(int64(len(batch)))
		p.logger.Error().Err(err).Int("messages", len(batch)).Msg("failed to publish progress events")
		return
	}
	p.sent.Add(int64(len(batch)))
}

// Sent returns the number of events written.
func (p *Publisher) Sent() int64 {
	return p.sent.Load()
}

// Dropped returns the number of events that were not written.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close flushes queued events and closes the writer. It is safe to call
// more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.logger.Info().
		Int64("sent", p.Sent()).
		Int64("dropped", p.Dropped()).
		Msg("event publisher closed")
	return p.writer.Close()
}
