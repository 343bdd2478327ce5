package comms

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultQueueDepth is the per-subscriber inbound queue size used when the
// bus is constructed with a non-positive depth.
const DefaultQueueDepth = 64

// Filter selects which envelopes a subscription receives. A zero Filter
// matches everything.
type Filter struct {
	// Kinds restricts delivery to the listed kinds. Empty means all kinds.
	Kinds []Kind

	// To restricts delivery to envelopes addressed to this agent id.
	// Broadcast envelopes always match a non-empty To. Empty means any
	// recipient.
	To string
}

// Matches reports whether the filter accepts the envelope.
func (f Filter) Matches(env Envelope) bool {
	if f.To != "" && env.To != f.To && env.To != Broadcast {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if env.Kind == k {
			return true
		}
	}
	return false
}

// Subscription is a live registration on the bus. Envelopes matching the
// filter arrive on C in publish order. Consumers should select on C together
// with their own context; the channel is never closed, but Done is closed
// when the subscription is removed or the bus shuts down.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan Envelope
	done   chan struct{}
	once   sync.Once
}

// C returns the subscription's delivery channel.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Done is closed when the subscription is no longer live.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) cancel() {
	s.once.Do(func() { close(s.done) })
}

// MessageBus is an in-process typed pub/sub transport. Delivery to each
// matching subscriber is FIFO in publish order (which subsumes the per-kind
// ordering guarantee) and at-least-once. Publish does not wait for the
// subscriber to process the envelope, but it does block while a subscriber's
// queue is full, so a slow consumer applies backpressure to its publishers
// instead of growing memory without bound. Envelopes are never replayed to
// subscriptions registered after publish time.
type MessageBus struct {
	pubMu sync.Mutex // serializes Publish so delivery order is well defined

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	depth  int
	logger *zap.Logger
}

// NewMessageBus creates a bus whose subscribers each get a queue of the
// given depth. A non-positive depth selects DefaultQueueDepth.
func NewMessageBus(depth int, logger *zap.Logger) *MessageBus {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageBus{
		subs:   make(map[uint64]*Subscription),
		depth:  depth,
		logger: logger,
	}
}

// Subscribe registers a live subscriber for envelopes matching filter.
func (b *MessageBus) Subscribe(filter Filter) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan Envelope, b.depth),
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = sub
	return sub, nil
}

// Unsubscribe removes a subscription. It is idempotent and safe to call on
// a nil subscription.
func (b *MessageBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.cancel()
}

// Publish delivers env to every current subscription whose filter matches.
// It returns ErrBusClosed after Close. A full subscriber queue blocks the
// call until the subscriber drains or is unsubscribed.
func (b *MessageBus) Publish(env Envelope) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.Matches(env) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	b.logger.Debug("publish",
		zap.String("kind", string(env.Kind)),
		zap.String("from", env.From),
		zap.String("to", env.To),
		zap.Int("subscribers", len(matched)))

	for _, sub := range matched {
		select {
		case sub.ch <- env:
		case <-sub.done:
			// Subscriber went away while we were blocked; skip it.
		}
	}
	return nil
}

// Close shuts the bus down. Subsequent Publish and Subscribe calls fail with
// ErrBusClosed; every live subscription's Done channel is closed.
func (b *MessageBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
}
