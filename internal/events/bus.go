// Package events carries domain events from the services to the
// notification hub. Events are published only after the store write that
// produced them has committed.
package events

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/logging"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
)

// Topic is the single topic all domain events travel on.
const Topic = "coach.events"

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e domain.Event) error

func (f PublisherFunc) Publish(ctx context.Context, e domain.Event) error {
	return f(ctx, e)
}

// Bus is an in-process pub/sub over Watermill's GoChannel. Delivery is
// at-most-once: events published with no subscriber are discarded.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates a bus whose subscriber channels hold up to buffer messages.
// Publish blocks until the subscriber acks, which keeps per-publisher order.
func NewBus(buffer int64, logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = logging.NewWatermillAdapter("events")
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            buffer,
			BlockPublishUntilSubscriberAck: true,
		}, logger),
	}
}

// Publish stamps the event's ID and time if unset, encodes it and hands it to
// the subscribers.
func (b *Bus) Publish(_ context.Context, e domain.Event) error {
	if e.ID == "" {
		e.ID = watermill.NewUUID()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Type, err)
	}
	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set("type", string(e.Type))
	return b.pubsub.Publish(Topic, msg)
}

// Consume subscribes and calls handle for each event until ctx is done.
// Messages are acked after handle returns; undecodable ones are logged and
// acked so they cannot stall the topic.
func (b *Bus) Consume(ctx context.Context, handle func(domain.Event)) error {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			e, err := Decode(msg)
			if err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Discarding malformed event")
			} else {
				handle(e)
			}
			msg.Ack()
		}
	}
}

// Close stops the bus. Pending subscribers see their channels closed.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode reads a domain event from a bus message.
func Decode(msg *message.Message) (domain.Event, error) {
	var e domain.Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return domain.Event{}, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	return e, nil
}

// Recorder is a Publisher that keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
	// Next, if set, also receives every event.
	Next Publisher
}

func (r *Recorder) Publish(ctx context.Context, e domain.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if r.Next != nil {
		return r.Next.Publish(ctx, e)
	}
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// OfType filters Events by type.
func (r *Recorder) OfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
