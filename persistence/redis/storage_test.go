package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, s *Storage,
	){
		"workflow save and load": testWorkflowRoundTrip,
		"event replay":           testEventReplay,
		"deadline lifecycle":     testDeadlineLifecycle,
		"cursor saves":           testCursors,
	} {
		t.Run(scenario, func(t *testing.T) {
			s := NewStorage(Config{
				Addrs:     []string{"localhost:6379"},
				Namespace: "test-" + uuid.NewString()[:8],
			})
			if err := s.redisClient.Ping(context.Background()).Err(); err != nil {
				t.Skipf("redis not reachable: %v", err)
			}

			fn(t, s)
		})
	}
}

func newInstance(requestId string, status model.WorkflowStatus) *model.WorkflowInstance {
	return &model.WorkflowInstance{
		Id:             uuid.NewString(),
		RequestId:      requestId,
		DefinitionName: "expense-approval",
		Status:         status,
		CreatedAt:      time.Now(),
		Steps: []model.Step{
			{Id: "step-0", OriginalAssignee: "alice", Status: model.STEP_ACTIVE},
		},
	}
}

func newEvent(workflowId string, seq int64, typ model.EventType) model.WorkflowEvent {
	return model.WorkflowEvent{
		WorkflowId: workflowId,
		Type:       typ,
		Sequence:   seq,
		Timestamp:  time.Now(),
	}
}

func testWorkflowRoundTrip(t *testing.T, s *Storage) {
	wf := newInstance("REQ-1", model.WORKFLOW_PENDING)
	events := []model.WorkflowEvent{
		newEvent(wf.Id, 1, model.EVENT_WORKFLOW_CREATED),
		newEvent(wf.Id, 2, model.EVENT_STEP_ACTIVATED),
	}
	require.NoError(t, s.SaveWorkflow(wf, events))
	require.Equal(t, int64(1), events[0].GlobalSeq)
	require.Equal(t, int64(2), events[1].GlobalSeq)

	stored, err := s.GetWorkflow(wf.Id)
	require.NoError(t, err)
	require.Equal(t, wf.Id, stored.Id)
	require.Len(t, stored.Steps, 1)

	byRequest, err := s.ListByRequest("REQ-1")
	require.NoError(t, err)
	require.Len(t, byRequest, 1)

	open, err := s.ListOpenWorkflows()
	require.NoError(t, err)
	require.Len(t, open, 1)

	// a terminal save drops the workflow from the open set
	wf.Status = model.WORKFLOW_APPROVED
	require.NoError(t, s.SaveWorkflow(wf, nil))
	open, err = s.ListOpenWorkflows()
	require.NoError(t, err)
	require.Empty(t, open)

	_, err = s.GetWorkflow("missing")
	require.True(t, api.HasReason(err, api.REASON_WORKFLOW_NOT_FOUND))
}

func testEventReplay(t *testing.T, s *Storage) {
	wf := newInstance("REQ-1", model.WORKFLOW_PENDING)
	require.NoError(t, s.SaveWorkflow(wf, []model.WorkflowEvent{
		newEvent(wf.Id, 1, model.EVENT_WORKFLOW_CREATED),
		newEvent(wf.Id, 2, model.EVENT_STEP_ACTIVATED),
		newEvent(wf.Id, 3, model.EVENT_STEP_APPROVED),
	}))

	// per-workflow replay is inclusive of fromSeq
	events, err := s.ListEvents(wf.Id, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(2), events[0].Sequence)

	// the firehose is exclusive of fromGlobalSeq
	all, err := s.ListAllEvents(1, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, int64(2), all[0].GlobalSeq)
	require.Equal(t, int64(3), all[1].GlobalSeq)
}

func testDeadlineLifecycle(t *testing.T, s *Storage) {
	now := time.Now()
	require.NoError(t, s.AddDeadline(persistence.DeadlineEntry{
		WorkflowId: "wf-1", StepId: "step-0", Generation: 1, FireAt: now.Add(-time.Minute),
	}))
	require.NoError(t, s.AddDeadline(persistence.DeadlineEntry{
		WorkflowId: "wf-2", StepId: "step-0", Generation: 1, FireAt: now.Add(time.Hour),
	}))

	due, err := s.DueDeadlines(now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "wf-1", due[0].WorkflowId)

	require.NoError(t, s.AddDeadline(persistence.DeadlineEntry{
		WorkflowId: "wf-1", StepId: "step-0", Generation: 2, FireAt: now.Add(-time.Second),
	}))
	due, err = s.DueDeadlines(now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, 2, due[0].Generation)

	require.NoError(t, s.RemoveDeadline("wf-1", "step-0"))
	due, err = s.DueDeadlines(now, 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func testCursors(t *testing.T, s *Storage) {
	value, err := s.GetCursor("notify-relay")
	require.NoError(t, err)
	require.Equal(t, int64(0), value)

	require.NoError(t, s.SaveCursor("notify-relay", 7))
	require.NoError(t, s.SaveCursor("notify-relay", 9))
	value, err = s.GetCursor("notify-relay")
	require.NoError(t, err)
	require.Equal(t, int64(9), value)
}
