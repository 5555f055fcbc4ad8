package service

import (
	"context"
	"sync"
	"testing"
	"time"

	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/audit"
	"github.com/signoff-io/signoff/delegation"
	"github.com/signoff-io/signoff/directory"
	"github.com/signoff-io/signoff/engine"
	"github.com/signoff-io/signoff/event"
	"github.com/signoff-io/signoff/metadata"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence/memory"
	"github.com/signoff-io/signoff/resolver"
	"github.com/signoff-io/signoff/rule"
	"github.com/signoff-io/signoff/ticket"
	"github.com/signoff-io/signoff/timer"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, entries []directory.Entry) (*WorkflowService, *ticket.StaticSource) {
	storage := memory.NewStorage()
	wg := &sync.WaitGroup{}
	dir := directory.NewStaticDirectory(entries)
	timers := timer.NewService(storage, 60, wg)
	eng := engine.New(engine.Config{Lanes: 4, LaneCapacity: 64, ActivatorWorkers: 2},
		storage, dir, delegation.NewResolver(storage), timers, event.NewBroker(), audit.NewNoopCollector(), wg)
	eng.Start()
	t.Cleanup(eng.Stop)

	tickets := ticket.NewStaticSource()
	svc := NewWorkflowService(eng, resolver.NewResolver(dir, rule.NewEvaluator()),
		metadata.NewMetadataService(storage), storage, dir, tickets)
	return svc, tickets
}

func expenseDefinition() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name:    "expense-approval",
		Version: 1,
		Steps: []model.StepTemplate{
			{
				Name:         "manager-review",
				Kind:         model.STEP_KIND_SEQUENTIAL,
				ApproverRole: "manager",
			},
			{
				Name:         "finance-review",
				Kind:         model.STEP_KIND_CONDITIONAL,
				Rule:         "$.amount > 1000",
				ApproverRole: "finance",
			},
		},
	}
}

func testEntries() []directory.Entry {
	return []directory.Entry{
		{UserId: "mia", Role: "manager", ManagerId: "vp", Active: true},
		{UserId: "fred", Role: "finance", Active: true},
		{UserId: "root", Role: AdminRole, Active: true},
	}
}

func TestCreateWorkflowRoutesByRule(t *testing.T) {
	svc, tickets := newTestService(t, testEntries())
	require.NoError(t, svc.metadata.SaveDefinition(expenseDefinition()))
	tickets.Put("REQ-1", map[string]any{"amount": float64(5000)})
	tickets.Put("REQ-2", map[string]any{"amount": float64(200)})

	big, err := svc.CreateWorkflow(context.Background(), "REQ-1", "expense-approval")
	require.NoError(t, err)
	require.Len(t, big.Steps, 2)
	require.Equal(t, "mia", big.Steps[0].Assignee)
	require.Equal(t, "fred", big.Steps[1].Assignee)

	small, err := svc.CreateWorkflow(context.Background(), "REQ-2", "expense-approval")
	require.NoError(t, err)
	require.Len(t, small.Steps, 1)
}

func TestCreateWorkflowUnknownDefinition(t *testing.T) {
	svc, tickets := newTestService(t, testEntries())
	tickets.Put("REQ-1", map[string]any{})

	_, err := svc.CreateWorkflow(context.Background(), "REQ-1", "missing")
	require.Error(t, err)
	require.True(t, api.HasReason(err, api.REASON_DEFINITION_NOT_FOUND))
}

func TestCreateWorkflowTicketStoreFailure(t *testing.T) {
	svc, _ := newTestService(t, testEntries())

	_, err := svc.CreateWorkflow(context.Background(), "REQ-unseeded", "expense-approval")
	require.Error(t, err)
	require.True(t, api.HasReason(err, api.REASON_TICKET_UNAVAILABLE))
}

func TestDecideValidatesInput(t *testing.T) {
	svc, _ := newTestService(t, testEntries())

	_, err := svc.Decide(context.Background(), "wf", "step", model.DecisionRequest{Action: model.ACTION_APPROVE})
	require.True(t, api.HasReason(err, api.REASON_BAD_ACTION))

	_, err = svc.Decide(context.Background(), "wf", "step", model.DecisionRequest{ActorId: "mia", Action: "frobnicate"})
	require.True(t, api.HasReason(err, api.REASON_BAD_ACTION))
}

func TestAdminCanDecideForOthers(t *testing.T) {
	svc, tickets := newTestService(t, testEntries())
	require.NoError(t, svc.metadata.SaveDefinition(expenseDefinition()))
	tickets.Put("REQ-1", map[string]any{"amount": float64(200)})
	wf, err := svc.CreateWorkflow(context.Background(), "REQ-1", "expense-approval")
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), wf.Id, wf.Steps[0].Id, model.DecisionRequest{
		ActorId: "root",
		Action:  model.ACTION_APPROVE,
	})
	require.NoError(t, err)

	stored, err := svc.GetWorkflow(wf.Id)
	require.NoError(t, err)
	require.Equal(t, model.WORKFLOW_APPROVED, stored.Status)
}

func TestBulkDecideIsolatesFailures(t *testing.T) {
	svc, tickets := newTestService(t, testEntries())
	require.NoError(t, svc.metadata.SaveDefinition(expenseDefinition()))
	tickets.Put("REQ-1", map[string]any{"amount": float64(200)})
	tickets.Put("REQ-2", map[string]any{"amount": float64(300)})
	first, err := svc.CreateWorkflow(context.Background(), "REQ-1", "expense-approval")
	require.NoError(t, err)
	second, err := svc.CreateWorkflow(context.Background(), "REQ-2", "expense-approval")
	require.NoError(t, err)

	results := svc.BulkDecide(context.Background(), model.BulkDecisionRequest{
		ActorId: "mia",
		Items: []model.BulkDecisionItem{
			{WorkflowId: first.Id, StepId: first.Steps[0].Id, Action: model.ACTION_APPROVE},
			{WorkflowId: "no-such-workflow", StepId: "nope", Action: model.ACTION_APPROVE},
			{WorkflowId: second.Id, StepId: second.Steps[0].Id, Action: model.ACTION_APPROVE},
		},
	})
	require.Len(t, results, 3)
	require.True(t, results[0].Ok)
	require.False(t, results[1].Ok)
	require.NotEmpty(t, results[1].Error)
	require.True(t, results[2].Ok)
}

func TestPendingApprovalsSortedOverdueFirst(t *testing.T) {
	svc, tickets := newTestService(t, testEntries())
	def := expenseDefinition()
	def.Steps = def.Steps[:1]
	def.Steps[0].TimeoutSeconds = 7200
	require.NoError(t, svc.metadata.SaveDefinition(def))
	tickets.Put("REQ-1", map[string]any{})
	tickets.Put("REQ-2", map[string]any{})
	fresh, err := svc.CreateWorkflow(context.Background(), "REQ-1", "expense-approval")
	require.NoError(t, err)
	overdue, err := svc.CreateWorkflow(context.Background(), "REQ-2", "expense-approval")
	require.NoError(t, err)

	// push the second workflow's deadline into the past
	stored, err := svc.storage.GetWorkflow(overdue.Id)
	require.NoError(t, err)
	stored.Steps[0].Deadline = time.Now().Add(-time.Hour)
	require.NoError(t, svc.storage.SaveWorkflow(stored, nil))

	pending, err := svc.PendingApprovals("mia")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, overdue.Id, pending[0].WorkflowId)
	require.True(t, pending[0].Overdue)
	require.Equal(t, fresh.Id, pending[1].WorkflowId)
	require.False(t, pending[1].Overdue)

	all, err := svc.OverdueApprovals()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, overdue.Id, all[0].WorkflowId)
}

func TestSaveDelegationValidation(t *testing.T) {
	svc, _ := newTestService(t, testEntries())
	now := time.Now()

	_, err := svc.SaveDelegation(model.DelegationRule{Delegator: "mia", Delegate: "mia", From: now, Until: now.Add(time.Hour)})
	require.True(t, api.HasReason(err, api.REASON_BAD_ACTION))

	_, err = svc.SaveDelegation(model.DelegationRule{Delegator: "mia", Delegate: "fred", From: now, Until: now})
	require.True(t, api.HasReason(err, api.REASON_BAD_ACTION))

	saved, err := svc.SaveDelegation(model.DelegationRule{Delegator: "mia", Delegate: "fred", From: now, Until: now.Add(time.Hour)})
	require.NoError(t, err)
	require.NotEmpty(t, saved.Id)
	require.False(t, saved.CreatedAt.IsZero())

	rules, err := svc.ListDelegations("mia")
	require.NoError(t, err)
	require.Len(t, rules, 1)
}

func TestStats(t *testing.T) {
	svc, tickets := newTestService(t, testEntries())
	def := expenseDefinition()
	def.Steps = def.Steps[:1]
	require.NoError(t, svc.metadata.SaveDefinition(def))
	tickets.Put("REQ-1", map[string]any{})
	tickets.Put("REQ-2", map[string]any{})
	wf, err := svc.CreateWorkflow(context.Background(), "REQ-1", "expense-approval")
	require.NoError(t, err)
	_, err = svc.CreateWorkflow(context.Background(), "REQ-2", "expense-approval")
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), wf.Id, wf.Steps[0].Id, model.DecisionRequest{ActorId: "mia", Action: model.ACTION_APPROVE})
	require.NoError(t, err)

	stats, err := svc.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Total)
	require.EqualValues(t, 1, stats.ByStatus[string(model.WORKFLOW_APPROVED)])
	require.EqualValues(t, 1, stats.ByStatus[string(model.WORKFLOW_PENDING)])
	require.True(t, stats.MeanCompletionSeconds >= 0)
}
