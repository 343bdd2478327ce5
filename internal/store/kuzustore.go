//go:build cgo

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements the Store interface using KuzuDB as the audit backend.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(":memory:", cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// NewKuzuFileStore creates a KuzuStore backed by a file-based KuzuDB at the
// given directory path, so the audit trail survives across sessions. KuzuDB
// creates the leaf directory itself.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(dbPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open file database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ddlStatements defines the Cypher DDL executed by InitSchema.
// Node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Message(
		id STRING,
		kind STRING,
		sender STRING,
		recipient STRING,
		correlation_id STRING,
		created_at INT64,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS PlanNode(
		identity STRING,
		component_type STRING,
		status STRING,
		retry_count INT64,
		artifact_file STRING,
		PRIMARY KEY(identity)
	)`,
	`CREATE REL TABLE IF NOT EXISTS CORRELATES(FROM Message TO Message, seq INT64)`,
	`CREATE REL TABLE IF NOT EXISTS CHILD_OF(FROM PlanNode TO PlanNode, seq INT64)`,
}

// InitSchema creates all node and relationship tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// RecordMessage inserts a Message node.
func (s *KuzuStore) RecordMessage(_ context.Context, rec MessageRecord) error {
	return s.exec(
		`CREATE (m:Message {
			id: $id,
			kind: $kind,
			sender: $from,
			recipient: $to,
			correlation_id: $cid,
			created_at: $at
		})`,
		map[string]any{
			"id":   rec.ID,
			"kind": rec.Kind,
			"from": rec.From,
			"to":   rec.To,
			"cid":  rec.CorrelationID,
			"at":   rec.CreatedAt.UnixNano(),
		},
	)
}

// RecordPlanNode inserts a PlanNode node.
func (s *KuzuStore) RecordPlanNode(_ context.Context, rec PlanRecord) error {
	return s.exec(
		`CREATE (p:PlanNode {
			identity: $id,
			component_type: $typ,
			status: $status,
			retry_count: $retries,
			artifact_file: $file
		})`,
		map[string]any{
			"id":      rec.Identity,
			"typ":     rec.Type,
			"status":  rec.Status,
			"retries": int64(rec.RetryCount),
			"file":    rec.ArtifactFile,
		},
	)
}

// LinkCorrelated creates a CORRELATES edge from request to response. The seq
// property preserves link order for Thread.
func (s *KuzuStore) LinkCorrelated(ctx context.Context, requestID, responseID string) error {
	seq, err := s.countEdgesFrom("CORRELATES", "Message", "id", requestID)
	if err != nil {
		return err
	}
	return s.exec(
		`MATCH (a:Message {id: $src}), (b:Message {id: $dst})
		 CREATE (a)-[:CORRELATES {seq: $seq}]->(b)`,
		map[string]any{"src": requestID, "dst": responseID, "seq": int64(seq)},
	)
}

// LinkChild creates a CHILD_OF edge from child to parent.
func (s *KuzuStore) LinkChild(_ context.Context, parentIdentity, childIdentity string) error {
	seq, err := s.countEdgesTo("CHILD_OF", "PlanNode", "identity", parentIdentity)
	if err != nil {
		return err
	}
	return s.exec(
		`MATCH (p:PlanNode {identity: $parent}), (c:PlanNode {identity: $child})
		 CREATE (c)-[:CHILD_OF {seq: $seq}]->(p)`,
		map[string]any{"parent": parentIdentity, "child": childIdentity, "seq": int64(seq)},
	)
}

// GetMessage retrieves a single Message node by ID, or nil if not found.
func (s *KuzuStore) GetMessage(_ context.Context, id string) (*MessageRecord, error) {
	rows, err := s.query(
		`MATCH (m:Message {id: $id})
		 RETURN m.id, m.kind, m.sender, m.recipient, m.correlation_id, m.created_at`,
		map[string]any{"id": id},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToMessage(rows[0]), nil
}

// MessagesByKind returns messages of the given kind ordered by creation time.
func (s *KuzuStore) MessagesByKind(_ context.Context, kind string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.query(
		`MATCH (m:Message {kind: $kind})
		 RETURN m.id, m.kind, m.sender, m.recipient, m.correlation_id, m.created_at
		 ORDER BY m.created_at LIMIT $lim`,
		map[string]any{"kind": kind, "lim": int64(limit)},
	)
	if err != nil {
		return nil, err
	}
	out := make([]MessageRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, *rowToMessage(r))
	}
	return out, nil
}

// Thread returns the responses linked to a request via CORRELATES edges, in
// link order.
func (s *KuzuStore) Thread(_ context.Context, requestID string) ([]MessageRecord, error) {
	rows, err := s.query(
		`MATCH (a:Message {id: $id})-[r:CORRELATES]->(b:Message)
		 RETURN b.id, b.kind, b.sender, b.recipient, b.correlation_id, b.created_at
		 ORDER BY r.seq`,
		map[string]any{"id": requestID},
	)
	if err != nil {
		return nil, err
	}
	out := make([]MessageRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, *rowToMessage(r))
	}
	return out, nil
}

// PlanChildren returns the plan nodes linked under a parent, in link order.
func (s *KuzuStore) PlanChildren(_ context.Context, parentIdentity string) ([]PlanRecord, error) {
	rows, err := s.query(
		`MATCH (c:PlanNode)-[r:CHILD_OF]->(p:PlanNode {identity: $id})
		 RETURN c.identity, c.component_type, c.status, c.retry_count, c.artifact_file
		 ORDER BY r.seq`,
		map[string]any{"id": parentIdentity},
	)
	if err != nil {
		return nil, err
	}
	out := make([]PlanRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, PlanRecord{
			Identity:     toString(r[0]),
			Type:         toString(r[1]),
			Status:       toString(r[2]),
			RetryCount:   toInt(r[3]),
			ArtifactFile: toString(r[4]),
		})
	}
	return out, nil
}

// Stats returns counts of all node and edge tables.
func (s *KuzuStore) Stats(_ context.Context) (*SessionStats, error) {
	messages, err := s.countTable("Message")
	if err != nil {
		return nil, err
	}
	planNodes, err := s.countTable("PlanNode")
	if err != nil {
		return nil, err
	}
	corr, err := s.countRelTable("CORRELATES")
	if err != nil {
		return nil, err
	}
	child, err := s.countRelTable("CHILD_OF")
	if err != nil {
		return nil, err
	}
	return &SessionStats{
		MessageCount:     messages,
		PlanNodeCount:    planNodes,
		CorrelationCount: corr,
		ChildEdgeCount:   child,
	}, nil
}

// ---------- Internal helpers ----------

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// countTable returns the number of rows in a node table.
func (s *KuzuStore) countTable(table string) (int, error) {
	// Table name is a fixed internal constant, not user input.
	cypher := fmt.Sprintf("MATCH (n:%s) RETURN count(n)", table)
	rows, err := s.query(cypher, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return toInt(rows[0][0]), nil
}

// countRelTable returns the number of edges in a relationship table.
func (s *KuzuStore) countRelTable(table string) (int, error) {
	cypher := fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r)", table)
	rows, err := s.query(cypher, nil)
	if err != nil {
		// Table may not exist yet; treat as zero.
		return 0, nil
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return toInt(rows[0][0]), nil
}

// countEdgesFrom counts outgoing edges of a kind from one node.
func (s *KuzuStore) countEdgesFrom(rel, table, key, value string) (int, error) {
	cypher := fmt.Sprintf("MATCH (a:%s {%s: $v})-[r:%s]->() RETURN count(r)", table, key, rel)
	rows, err := s.query(cypher, map[string]any{"v": value})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return toInt(rows[0][0]), nil
}

// countEdgesTo counts incoming edges of a kind into one node.
func (s *KuzuStore) countEdgesTo(rel, table, key, value string) (int, error) {
	cypher := fmt.Sprintf("MATCH ()-[r:%s]->(a:%s {%s: $v}) RETURN count(r)", rel, table, key)
	rows, err := s.query(cypher, map[string]any{"v": value})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return toInt(rows[0][0]), nil
}

// rowToMessage converts a 6-column result row into a MessageRecord.
// Column order: id, kind, sender, recipient, correlation_id, created_at.
func rowToMessage(r []any) *MessageRecord {
	return &MessageRecord{
		ID:            toString(r[0]),
		Kind:          toString(r[1]),
		From:          toString(r[2]),
		To:            toString(r[3]),
		CorrelationID: toString(r[4]),
		CreatedAt:     time.Unix(0, int64(toInt(r[5]))),
	}
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, float64, bool, string).

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
