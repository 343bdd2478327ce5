package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, kind string) MessageRecord {
	return MessageRecord{
		ID:        id,
		Kind:      kind,
		From:      "orchestrator",
		To:        "sequence-agent",
		CreatedAt: time.Now(),
	}
}

func TestMemStore_RecordAndGetMessage(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.InitSchema(ctx))

	require.NoError(t, s.RecordMessage(ctx, msg("m1", "plan-request")))

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "plan-request", got.Kind)

	missing, err := s.GetMessage(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemStore_MessagesByKindPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.RecordMessage(ctx, msg("m1", "plan-request")))
	require.NoError(t, s.RecordMessage(ctx, msg("m2", "plan-response")))
	require.NoError(t, s.RecordMessage(ctx, msg("m3", "plan-request")))

	reqs, err := s.MessagesByKind(ctx, "plan-request", 0)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "m1", reqs[0].ID)
	assert.Equal(t, "m3", reqs[1].ID)

	limited, err := s.MessagesByKind(ctx, "plan-request", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemStore_Thread(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.RecordMessage(ctx, msg("req", "plan-request")))
	require.NoError(t, s.RecordMessage(ctx, msg("resp1", "plan-response")))
	require.NoError(t, s.RecordMessage(ctx, msg("resp2", "plan-response")))
	require.NoError(t, s.LinkCorrelated(ctx, "req", "resp1"))
	require.NoError(t, s.LinkCorrelated(ctx, "req", "resp2"))

	thread, err := s.Thread(ctx, "req")
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "resp1", thread[0].ID)
	assert.Equal(t, "resp2", thread[1].ID)

	empty, err := s.Thread(ctx, "resp1")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemStore_PlanChildren(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.RecordPlanNode(ctx, PlanRecord{Identity: "fifo_env", Type: "environment", Status: "approved"}))
	require.NoError(t, s.RecordPlanNode(ctx, PlanRecord{Identity: "fifo_if", Type: "interface", Status: "approved", ArtifactFile: "fifo_if.sv"}))
	require.NoError(t, s.RecordPlanNode(ctx, PlanRecord{Identity: "fifo_scoreboard", Type: "scoreboard", Status: "proposed"}))
	require.NoError(t, s.LinkChild(ctx, "fifo_env", "fifo_if"))
	require.NoError(t, s.LinkChild(ctx, "fifo_env", "fifo_scoreboard"))

	kids, err := s.PlanChildren(ctx, "fifo_env")
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, "fifo_if", kids[0].Identity)
	assert.Equal(t, "fifo_if.sv", kids[0].ArtifactFile)
	assert.Equal(t, "fifo_scoreboard", kids[1].Identity)
}

func TestMemStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.RecordMessage(ctx, msg("m1", "plan-request")))
	require.NoError(t, s.RecordMessage(ctx, msg("m2", "plan-response")))
	require.NoError(t, s.LinkCorrelated(ctx, "m1", "m2"))
	require.NoError(t, s.RecordPlanNode(ctx, PlanRecord{Identity: "fifo_env"}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, 1, stats.PlanNodeCount)
	assert.Equal(t, 1, stats.CorrelationCount)
	assert.Equal(t, 0, stats.ChildEdgeCount)

	require.NoError(t, s.Close())
}
