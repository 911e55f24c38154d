package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrBackpressure is returned by Publish once the unconsumed queue
	// exceeds its limit. The event is still queued.
	ErrBackpressure = errors.New("consumer backpressure: event queue limit exceeded")

	// ErrConsumerAttached is returned when a second consumer tries to attach.
	ErrConsumerAttached = errors.New("stream already has an active consumer")

	// ErrClosed is returned when publishing to a closed channel.
	ErrClosed = errors.New("stream closed")
)

// Sink receives a copy of every published event, for fan-out beyond the
// single queue consumer. Deliver must not block.
type Sink interface {
	Deliver(Event)
}

// ClosingSink is a Sink that also learns when the sequence ends.
type ClosingSink interface {
	Sink
	StreamClosed(executionID string)
}

// Option configures a Channel.
type Option func(*Channel)

// WithSink mirrors events to s.
func WithSink(s Sink) Option {
	return func(c *Channel) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

// WithDiscard drops events instead of queueing them, for executions nobody
// will stream. Sinks still receive every event.
func WithDiscard() Option {
	return func(c *Channel) { c.discard = true }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// Channel is the ordered event queue of one execution.
//
// Publish never blocks the producer. Events wait in an in-memory queue until
// the single attached consumer takes them; a consumer that detaches and
// reattaches resumes at the queue head with no replay of consumed events.
type Channel struct {
	executionID string
	maxBuffered int
	sinks       []Sink
	discard     bool
	now         func() time.Time
	buffered    metric.Int64UpDownCounter

	mu       sync.Mutex
	queue    []Event
	seq      uint64
	closed   bool
	attached bool
	notify   chan struct{}
}

// NewChannel creates a channel for executionID. maxBuffered <= 0 disables the limit.
func NewChannel(executionID string, maxBuffered int, opts ...Option) *Channel {
	c := &Channel{
		executionID: executionID,
		maxBuffered: maxBuffered,
		now:         time.Now,
		notify:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.buffered, _ = otel.Meter(instrumentationName).Int64UpDownCounter(
		"cognition.stream.buffered",
		metric.WithDescription("Events published but not yet consumed"),
		metric.WithUnit("{event}"),
	)
	return c
}

const instrumentationName = "github.com/while-basic/celaya-parachain-sub000/internal/stream"

// ExecutionID returns the execution this channel belongs to.
func (c *Channel) ExecutionID() string {
	return c.executionID
}

// Publish stamps and enqueues an event carrying data.
func (c *Channel) Publish(t Type, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s data: %w", t, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Event{}, ErrClosed
	}
	c.seq++
	ev := Event{
		Type:        t,
		Seq:         c.seq,
		ExecutionID: c.executionID,
		Timestamp:   c.now().UTC(),
		Data:        raw,
	}
	var over bool
	if !c.discard {
		c.queue = append(c.queue, ev)
		over = c.maxBuffered > 0 && len(c.queue) > c.maxBuffered
	}
	c.mu.Unlock()

	if !c.discard {
		c.buffered.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event.type", string(t))))
		c.signal()
	}
	for _, s := range c.sinks {
		s.Deliver(ev)
	}

	if over {
		return ev, ErrBackpressure
	}
	return ev, nil
}

// Close marks the end of the sequence. Queued events remain consumable.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.signal()
	for _, s := range c.sinks {
		if cs, ok := s.(ClosingSink); ok {
			cs.StreamClosed(c.executionID)
		}
	}
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Buffered returns the number of unconsumed events.
func (c *Channel) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Subscribe attaches the consumer. The returned channel yields events in
// publish order and is closed after the last event of a closed Channel, or
// when ctx is done (which also detaches the consumer).
func (c *Channel) Subscribe(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	if c.attached {
		c.mu.Unlock()
		return nil, ErrConsumerAttached
	}
	c.attached = true
	c.mu.Unlock()

	out := make(chan Event)
	go c.drain(ctx, out)
	return out, nil
}

func (c *Channel) drain(ctx context.Context, out chan<- Event) {
	defer func() {
		c.mu.Lock()
		c.attached = false
		c.mu.Unlock()
		close(out)
	}()

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-c.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		ev := c.queue[0]
		c.mu.Unlock()

		// The head is only removed once delivered, so a consumer that
		// leaves mid-send does not lose it.
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}

		c.mu.Lock()
		c.queue[0] = Event{}
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.buffered.Add(context.Background(), -1, metric.WithAttributes(attribute.String("event.type", string(ev.Type))))
	}
}

func (c *Channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
