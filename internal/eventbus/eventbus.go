// Package eventbus is the in-process pub/sub broadcast used by the CDP
// Adapter and Network Tap to publish raw events, and by the rest of the
// runtime to observe them. A durable tier mirrors published events into
// SQLite so `History` can answer time-range and action-id queries after
// the in-memory ring has dropped them.
//
// The fan-out shape (one event, many subscribers, one producer's error
// never blocking another's delivery) is grounded on
// domwatch/internal/sink.Router's Send/SendSnapshot/SendProfile broadcast;
// generalized here from "one batch, many named sinks" to "one topic, many
// bounded-ring subscribers" since the event bus's consumers come and go at
// runtime instead of being wired up front.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventEnvelope is the wire shape the durable history tier stores, one
// level above the raw PageLifecycle/NetworkSummary/Error payloads.
type EventEnvelope struct {
	Seq     int64
	Kind    string
	Page    string
	Action  string
	At      time.Time
	Payload any
}

// RetentionPolicy governs eviction in the durable history tier:
// SQLiteHistoryStore applies MaxEntries on each flush and MaxAge in Cleanup.
type RetentionPolicy struct {
	MaxEntries int
	MaxAge     time.Duration
}

// DefaultRetentionPolicy is used when a zero-value policy is supplied.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{MaxEntries: 4096, MaxAge: time.Hour}
}

// Receiver is a bounded-ring subscription handle. Slow consumers observe
// Lag() and the bus drops the oldest undelivered event rather than
// blocking the publisher.
type Receiver struct {
	ch  chan EventEnvelope
	bus *Bus
	topic string
	mu  sync.Mutex
	lag int64
}

// C returns the channel to range over for delivered events.
func (r *Receiver) C() <-chan EventEnvelope { return r.ch }

// Lag reports how many events have been dropped for this receiver because
// its buffer was full when a publish occurred.
func (r *Receiver) Lag() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lag
}

// Close unsubscribes the receiver from the bus.
func (r *Receiver) Close() {
	r.bus.unsubscribe(r.topic, r)
}

func (r *Receiver) deliver(e EventEnvelope) {
	select {
	case r.ch <- e:
	default:
		// drop-oldest: make room, then try once more; every event lost on
		// the way (the drained oldest one, or e itself if a concurrent
		// publisher refilled the slot) counts toward the lag.
		select {
		case <-r.ch:
			r.mu.Lock()
			r.lag++
			r.mu.Unlock()
		default:
		}
		select {
		case r.ch <- e:
		default:
			r.mu.Lock()
			r.lag++
			r.mu.Unlock()
		}
	}
}

// HistoryStore is the durable-tier seam. The SQLite-backed implementation
// lives in store.go, grounded on observability.MetricsManager's buffered
// batch-flush shape.
type HistoryStore interface {
	Append(e EventEnvelope)
	Query(start, end *time.Time, actionID string, limit int) ([]EventEnvelope, error)
	Close() error
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// WithReceiverBuffer sets the per-subscriber channel buffer. Default: 256.
func WithReceiverBuffer(n int) Option { return func(b *Bus) { b.receiverBuffer = n } }

// WithHistoryStore attaches a durable tier. Without one, History always
// returns an empty slice.
func WithHistoryStore(s HistoryStore) Option { return func(b *Bus) { b.history = s } }

// WithRetentionPolicy records a retention policy on the Bus. The Bus does
// not apply it: receiver buffers are sized by WithReceiverBuffer, and a
// HistoryStore enforces the policy it was constructed with.
func WithRetentionPolicy(p RetentionPolicy) Option { return func(b *Bus) { b.retention = p } }

// Bus is the process-wide event bus. Held as a single value initialized at
// startup; callers obtain references from the root object rather than
// reaching for ambient global state.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[string][]*Receiver
	seq            int64
	receiverBuffer int
	retention      RetentionPolicy
	history        HistoryStore
	logger         *slog.Logger
}

// New creates an event Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers:    make(map[string][]*Receiver),
		receiverBuffer: 256,
		retention:      DefaultRetentionPolicy(),
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish broadcasts payload under topic to every current subscriber of
// that topic, and mirrors it into the durable tier if one is attached.
func (b *Bus) Publish(ctx context.Context, topic, page, action string, payload any) {
	_ = ctx
	b.mu.Lock()
	b.seq++
	e := EventEnvelope{Seq: b.seq, Kind: topic, Page: page, Action: action, At: time.Now(), Payload: payload}
	subs := append([]*Receiver(nil), b.subscribers[topic]...)
	b.mu.Unlock()

	for _, r := range subs {
		r.deliver(e)
	}
	if b.history != nil {
		b.history.Append(e)
	}
}

// Subscribe returns a bounded-ring Receiver for topic.
func (b *Bus) Subscribe(topic string) *Receiver {
	r := &Receiver{ch: make(chan EventEnvelope, b.receiverBuffer), bus: b, topic: topic}
	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], r)
	b.mu.Unlock()
	return r
}

func (b *Bus) unsubscribe(topic string, target *Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[topic]
	for i, r := range subs {
		if r == target {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			close(r.ch)
			return
		}
	}
}

// History queries the durable tier. time_range is expressed as optional
// start/end bounds; pass actionID to also filter to one action's events,
// or "" to ignore it.
func (b *Bus) History(start, end *time.Time, actionID string, limit int) ([]EventEnvelope, error) {
	if b.history == nil {
		return nil, nil
	}
	return b.history.Query(start, end, actionID, limit)
}

// Close releases the durable tier, if any. Subscribers are not closed
// automatically — callers own their Receiver's lifetime.
func (b *Bus) Close() error {
	if b.history != nil {
		return b.history.Close()
	}
	return nil
}
