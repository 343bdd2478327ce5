package comms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DialogueManager layers request/response correlation on top of the bus.
// One manager serves one requesting agent (in practice the orchestrator):
// it subscribes to response-kind envelopes addressed to that agent and
// routes each to the pending exchange identified by its correlation id.
//
// Every exchange resolves by exactly one of three mutually exclusive
// terminal events: a matching response arrives, the deadline elapses, or
// the caller cancels. A response arriving after resolution has no pending
// exchange to match and is logged and dropped.
type DialogueManager struct {
	bus    *MessageBus
	owner  string
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]chan Envelope // correlation id -> 1-buffered resolution channel
	history []Envelope

	sub    *Subscription
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewDialogueManager creates a manager sending on behalf of owner. Call
// Start before the first SendRequest and Close when the session ends.
func NewDialogueManager(bus *MessageBus, owner string, logger *zap.Logger) *DialogueManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DialogueManager{
		bus:     bus,
		owner:   owner,
		logger:  logger,
		pending: make(map[string]chan Envelope),
		closed:  make(chan struct{}),
	}
}

// Start subscribes to responses addressed to the owner and begins routing
// them to pending exchanges.
func (m *DialogueManager) Start() error {
	kinds := make([]Kind, 0, len(Kinds))
	for _, k := range Kinds {
		if k.IsResponse() {
			kinds = append(kinds, k)
		}
	}
	sub, err := m.bus.Subscribe(Filter{Kinds: kinds, To: m.owner})
	if err != nil {
		return fmt.Errorf("dialogue: subscribe: %w", err)
	}
	m.sub = sub

	m.wg.Add(1)
	go m.route()
	return nil
}

// Close cancels every outstanding exchange and stops the routing loop.
// Waiters blocked in SendRequest return ErrCanceled.
func (m *DialogueManager) Close() {
	m.once.Do(func() { close(m.closed) })
	m.bus.Unsubscribe(m.sub)
	m.wg.Wait()
}

// route consumes response envelopes and resolves pending exchanges.
func (m *DialogueManager) route() {
	defer m.wg.Done()
	for {
		select {
		case env := <-m.sub.C():
			m.deliver(env)
		case <-m.sub.Done():
			return
		case <-m.closed:
			return
		}
	}
}

// deliver resolves the exchange matching env's correlation id, if any.
// The pending entry is removed under the lock before the buffered send, so
// an exchange can never be resolved twice by two responses.
func (m *DialogueManager) deliver(env Envelope) {
	m.mu.Lock()
	ch, ok := m.pending[env.CorrelationID]
	if ok {
		delete(m.pending, env.CorrelationID)
		m.history = append(m.history, env)
		ch <- env // buffered, never blocks
	}
	m.mu.Unlock()

	if !ok {
		// CorrelationMismatch: logged and dropped, never fatal.
		m.logger.Warn("response with no pending exchange, dropping",
			zap.String("correlation_id", env.CorrelationID),
			zap.String("kind", string(env.Kind)),
			zap.String("from", env.From))
	}
}

// SendRequest assigns a fresh correlation id to req, publishes it, and
// blocks until the exchange resolves. On timeout it returns ErrTimeout and
// on context cancellation ErrCanceled; in both cases the exchange is marked
// resolved so a late response is discarded by deliver.
func (m *DialogueManager) SendRequest(ctx context.Context, req Envelope, timeout time.Duration) (Envelope, error) {
	cid, ch, err := m.register()
	if err != nil {
		return Envelope{}, err
	}
	req.CorrelationID = cid

	m.mu.Lock()
	m.history = append(m.history, req)
	m.mu.Unlock()

	if err := m.bus.Publish(req); err != nil {
		m.unregister(cid)
		return Envelope{}, fmt.Errorf("dialogue: publish request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		if resp, ok := m.settle(cid, ch); ok {
			return resp, nil
		}
		m.logger.Warn("exchange timed out",
			zap.String("correlation_id", cid),
			zap.String("to", req.To),
			zap.Duration("timeout", timeout))
		return Envelope{}, fmt.Errorf("%w: %s to %s after %s", ErrTimeout, req.Kind, req.To, timeout)
	case <-ctx.Done():
		if resp, ok := m.settle(cid, ch); ok {
			return resp, nil
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	case <-m.closed:
		if resp, ok := m.settle(cid, ch); ok {
			return resp, nil
		}
		return Envelope{}, ErrCanceled
	}
}

// register creates a pending exchange under a correlation id that is not in
// use by any unresolved exchange.
func (m *DialogueManager) register() (string, chan Envelope, error) {
	select {
	case <-m.closed:
		return "", nil, ErrCanceled
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cid := uuid.NewString()
	for _, taken := m.pending[cid]; taken; _, taken = m.pending[cid] {
		cid = uuid.NewString()
	}
	ch := make(chan Envelope, 1)
	m.pending[cid] = ch
	return cid, ch, nil
}

func (m *DialogueManager) unregister(cid string) {
	m.mu.Lock()
	delete(m.pending, cid)
	m.mu.Unlock()
}

// settle removes the pending exchange and reports whether a response slipped
// into the buffer before removal. A response that raced the timer still
// counts as the exchange's single terminal event.
func (m *DialogueManager) settle(cid string, ch chan Envelope) (Envelope, bool) {
	m.unregister(cid)
	select {
	case resp := <-ch:
		return resp, true
	default:
		return Envelope{}, false
	}
}

// PendingCount returns the number of unresolved exchanges.
func (m *DialogueManager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Snapshot returns an immutable copy of the history log: every request sent
// through SendRequest and every response that resolved an exchange, in
// arrival order.
func (m *DialogueManager) Snapshot() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.history))
	copy(out, m.history)
	return out
}

// Reply builds a response envelope answering req, preserving its
// correlation id.
func Reply(req Envelope, kind Kind, from string, payload any) Envelope {
	env := NewEnvelope(kind, from, req.From, payload)
	env.CorrelationID = req.CorrelationID
	return env
}
