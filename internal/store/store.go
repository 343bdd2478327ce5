// Package store persists a session audit trail: every envelope that crossed
// the bus and every plan node the orchestrator decided on, linked into a
// small graph that can be queried after a run.
package store

import (
	"context"
	"io"
	"time"
)

// MessageRecord is the persisted shape of one bus envelope.
type MessageRecord struct {
	ID            string
	Kind          string
	From          string
	To            string
	CorrelationID string
	CreatedAt     time.Time
}

// PlanRecord is the persisted shape of one plan tree node.
type PlanRecord struct {
	Identity     string
	Type         string
	Status       string
	RetryCount   int
	ArtifactFile string
}

// SessionStats summarizes what a session wrote to the store.
type SessionStats struct {
	MessageCount     int
	PlanNodeCount    int
	CorrelationCount int
	ChildEdgeCount   int
}

// Store is the interface for the session audit backend.
// Implementations: KuzuStore (persistent graph), MemStore (default, testing).
type Store interface {
	io.Closer

	// Schema setup, called once before any data is inserted.
	InitSchema(ctx context.Context) error

	// Write operations.
	RecordMessage(ctx context.Context, rec MessageRecord) error
	RecordPlanNode(ctx context.Context, rec PlanRecord) error
	// LinkCorrelated connects a request message to one of its responses.
	LinkCorrelated(ctx context.Context, requestID, responseID string) error
	// LinkChild connects a plan node to its parent.
	LinkChild(ctx context.Context, parentIdentity, childIdentity string) error

	// Read operations.
	GetMessage(ctx context.Context, id string) (*MessageRecord, error)
	MessagesByKind(ctx context.Context, kind string, limit int) ([]MessageRecord, error)
	// Thread returns the responses linked to a request, in insertion order.
	Thread(ctx context.Context, requestID string) ([]MessageRecord, error)
	PlanChildren(ctx context.Context, parentIdentity string) ([]PlanRecord, error)

	Stats(ctx context.Context) (*SessionStats, error)
}
