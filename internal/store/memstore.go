package store

import (
	"context"
	"sync"
)

// Compile-time assertion: *MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex.
type MemStore struct {
	mu         sync.RWMutex
	messages   map[string]MessageRecord
	planNodes  map[string]PlanRecord
	correlated map[string][]string // requestID -> responseIDs in link order
	children   map[string][]string // parentIdentity -> childIdentities
	msgOrder   []string            // insertion order for stable listing
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{
		messages:   make(map[string]MessageRecord),
		planNodes:  make(map[string]PlanRecord),
		correlated: make(map[string][]string),
		children:   make(map[string][]string),
	}
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

// RecordMessage stores a message record keyed by its envelope ID. Re-recording
// the same ID overwrites but keeps the original position.
func (m *MemStore) RecordMessage(_ context.Context, rec MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[rec.ID]; !ok {
		m.msgOrder = append(m.msgOrder, rec.ID)
	}
	m.messages[rec.ID] = rec
	return nil
}

// RecordPlanNode stores a plan record keyed by component identity.
func (m *MemStore) RecordPlanNode(_ context.Context, rec PlanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planNodes[rec.Identity] = rec
	return nil
}

// LinkCorrelated appends a response to a request's thread.
func (m *MemStore) LinkCorrelated(_ context.Context, requestID, responseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.correlated[requestID] = append(m.correlated[requestID], responseID)
	return nil
}

// LinkChild appends a child under a parent plan node.
func (m *MemStore) LinkChild(_ context.Context, parentIdentity, childIdentity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[parentIdentity] = append(m.children[parentIdentity], childIdentity)
	return nil
}

// GetMessage returns the message with the given ID, or nil if not found.
func (m *MemStore) GetMessage(_ context.Context, id string) (*MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.messages[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// MessagesByKind returns messages of the given kind in insertion order, up to
// limit results. A limit <= 0 returns all matches.
func (m *MemStore) MessagesByKind(_ context.Context, kind string, limit int) ([]MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MessageRecord
	for _, id := range m.msgOrder {
		rec := m.messages[id]
		if rec.Kind != kind {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Thread returns the responses linked to a request, in link order. Response
// IDs without a stored record are skipped.
func (m *MemStore) Thread(_ context.Context, requestID string) ([]MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.correlated[requestID]
	out := make([]MessageRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := m.messages[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// PlanChildren returns the plan records linked under a parent, in link order.
func (m *MemStore) PlanChildren(_ context.Context, parentIdentity string) ([]PlanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.children[parentIdentity]
	out := make([]PlanRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := m.planNodes[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Stats returns counts of all record and edge types in the store.
func (m *MemStore) Stats(_ context.Context) (*SessionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	corr, child := 0, 0
	for _, v := range m.correlated {
		corr += len(v)
	}
	for _, v := range m.children {
		child += len(v)
	}
	return &SessionStats{
		MessageCount:     len(m.messages),
		PlanNodeCount:    len(m.planNodes),
		CorrelationCount: corr,
		ChildEdgeCount:   child,
	}, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
