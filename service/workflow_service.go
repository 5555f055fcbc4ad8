package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/directory"
	"github.com/signoff-io/signoff/engine"
	"github.com/signoff-io/signoff/logger"
	"github.com/signoff-io/signoff/metadata"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
	"github.com/signoff-io/signoff/resolver"
	"github.com/signoff-io/signoff/ticket"
	"go.uber.org/zap"
)

// AdminRole holders may decide any step regardless of assignment.
const AdminRole = "admin"

// WorkflowService validates external commands and hands them to the
// engine. It never mutates state itself; every applied change goes
// through the engine's serialized lanes.
type WorkflowService struct {
	engine    *engine.Engine
	resolver  *resolver.Resolver
	metadata  metadata.MetadataService
	storage   persistence.Storage
	directory directory.Client
	tickets   ticket.AttributeSource
}

func NewWorkflowService(eng *engine.Engine, res *resolver.Resolver, meta metadata.MetadataService, storage persistence.Storage, dir directory.Client, tickets ticket.AttributeSource) *WorkflowService {
	return &WorkflowService{
		engine:    eng,
		resolver:  res,
		metadata:  meta,
		storage:   storage,
		directory: dir,
		tickets:   tickets,
	}
}

func (s *WorkflowService) CreateWorkflow(ctx context.Context, requestId string, definitionName string) (*model.WorkflowInstance, error) {
	if len(requestId) == 0 {
		return nil, api.NewValidationError(api.REASON_BAD_ACTION, "requestId can not be empty")
	}
	def, err := s.metadata.GetDefinition(definitionName)
	if err != nil {
		return nil, err
	}
	attributes, err := s.tickets.GetRequestAttributes(ctx, requestId)
	if err != nil {
		return nil, api.NewRoutingError(api.REASON_TICKET_UNAVAILABLE,
			"error reading attributes for request %s: %v", requestId, err)
	}
	wf, err := s.resolver.Materialize(ctx, *def, requestId, attributes)
	if err != nil {
		return nil, err
	}
	logger.Info("workflow materialized", zap.String("workflow", wf.Id),
		zap.String("request", requestId), zap.String("definition", definitionName), zap.Int("steps", len(wf.Steps)))
	return s.engine.CreateWorkflow(wf)
}

func (s *WorkflowService) GetWorkflow(workflowId string) (*model.WorkflowInstance, error) {
	return s.storage.GetWorkflow(workflowId)
}

func (s *WorkflowService) ListByRequest(requestId string) ([]*model.WorkflowInstance, error) {
	return s.storage.ListByRequest(requestId)
}

func validAction(action model.ActionType) bool {
	switch action {
	case model.ACTION_APPROVE, model.ACTION_REJECT, model.ACTION_REQUEST_INFO, model.ACTION_DELEGATE:
		return true
	}
	return false
}

func (s *WorkflowService) Decide(ctx context.Context, workflowId string, stepId string, req model.DecisionRequest) (*model.Step, error) {
	if len(req.ActorId) == 0 {
		return nil, api.NewValidationError(api.REASON_BAD_ACTION, "actorId can not be empty")
	}
	if !validAction(req.Action) {
		return nil, api.NewValidationError(api.REASON_BAD_ACTION, "unknown action %q", req.Action)
	}
	return s.engine.Decide(workflowId, stepId, req.ActorId, req.Action, req.Comments, req.DelegateTo, s.isAdmin(ctx, req.ActorId))
}

// BulkDecide applies each item independently; one failing item never
// rolls back the others.
func (s *WorkflowService) BulkDecide(ctx context.Context, req model.BulkDecisionRequest) []model.BulkDecisionResult {
	results := make([]model.BulkDecisionResult, 0, len(req.Items))
	for _, item := range req.Items {
		result := model.BulkDecisionResult{WorkflowId: item.WorkflowId, StepId: item.StepId}
		_, err := s.Decide(ctx, item.WorkflowId, item.StepId, model.DecisionRequest{
			ActorId:  req.ActorId,
			Action:   item.Action,
			Comments: item.Comments,
		})
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Ok = true
		}
		results = append(results, result)
	}
	return results
}

func (s *WorkflowService) CancelWorkflow(workflowId string, actorId string, reason string) error {
	return s.engine.Cancel(workflowId, actorId, reason)
}

func (s *WorkflowService) ResumeDeadline(workflowId string, stepId string, actorId string) (*model.Step, error) {
	return s.engine.Resume(workflowId, stepId, actorId)
}

func (s *WorkflowService) isAdmin(ctx context.Context, actorId string) bool {
	entry, err := s.directory.Resolve(ctx, actorId)
	if err != nil {
		return false
	}
	return entry.Role == AdminRole
}

// PendingApprovals is an approver's queue: active steps assigned to the
// actor across open workflows, overdue first, then by deadline.
func (s *WorkflowService) PendingApprovals(actorId string) ([]model.PendingApproval, error) {
	open, err := s.storage.ListOpenWorkflows()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []model.PendingApproval
	for _, wf := range open {
		for _, step := range wf.ActiveSteps() {
			if step.Assignee != actorId {
				continue
			}
			out = append(out, model.PendingApproval{
				WorkflowId:     wf.Id,
				RequestId:      wf.RequestId,
				DefinitionName: wf.DefinitionName,
				Step:           *step,
				Overdue:        !step.Deadline.IsZero() && step.Deadline.Before(now),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Overdue != out[j].Overdue {
			return out[i].Overdue
		}
		return out[i].Step.Deadline.Before(out[j].Step.Deadline)
	})
	return out, nil
}

// OverdueApprovals lists active steps whose deadline has passed, across
// all actors.
func (s *WorkflowService) OverdueApprovals() ([]model.PendingApproval, error) {
	open, err := s.storage.ListOpenWorkflows()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []model.PendingApproval
	for _, wf := range open {
		for _, step := range wf.ActiveSteps() {
			if step.Deadline.IsZero() || !step.Deadline.Before(now) {
				continue
			}
			out = append(out, model.PendingApproval{
				WorkflowId:     wf.Id,
				RequestId:      wf.RequestId,
				DefinitionName: wf.DefinitionName,
				Step:           *step,
				Overdue:        true,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step.Deadline.Before(out[j].Step.Deadline) })
	return out, nil
}

func (s *WorkflowService) Stats() (*model.WorkflowStats, error) {
	workflows, err := s.storage.ListWorkflows()
	if err != nil {
		return nil, err
	}
	stats := &model.WorkflowStats{ByStatus: make(map[string]int64)}
	var escalatedSteps int64
	var completed int64
	var completionSeconds float64
	for _, wf := range workflows {
		stats.Total++
		stats.ByStatus[string(wf.Status)]++
		for _, step := range wf.Steps {
			stats.Escalations += int64(step.EscalationCount)
			if step.EscalationCount > 0 {
				escalatedSteps++
			}
		}
		if wf.CompletedAt != nil {
			completed++
			completionSeconds += wf.CompletedAt.Sub(wf.CreatedAt).Seconds()
		}
	}
	if stats.Total > 0 {
		stats.EscalationRate = float64(escalatedSteps) / float64(stats.Total)
	}
	if completed > 0 {
		stats.MeanCompletionSeconds = completionSeconds / float64(completed)
	}
	return stats, nil
}

func (s *WorkflowService) ListEvents(workflowId string, fromSeq int64) ([]model.WorkflowEvent, error) {
	return s.storage.ListEvents(workflowId, fromSeq)
}

func (s *WorkflowService) ListAllEvents(fromGlobalSeq int64, limit int) ([]model.WorkflowEvent, error) {
	return s.storage.ListAllEvents(fromGlobalSeq, limit)
}

func (s *WorkflowService) SaveDelegation(rule model.DelegationRule) (*model.DelegationRule, error) {
	if len(rule.Delegator) == 0 || len(rule.Delegate) == 0 {
		return nil, api.NewValidationError(api.REASON_BAD_ACTION, "delegator and delegate are required")
	}
	if rule.Delegator == rule.Delegate {
		return nil, api.NewValidationError(api.REASON_BAD_ACTION, "delegator and delegate can not be the same user")
	}
	if !rule.Until.After(rule.From) {
		return nil, api.NewValidationError(api.REASON_BAD_ACTION, "delegation window is empty")
	}
	if len(rule.Id) == 0 {
		rule.Id = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	if err := s.storage.SaveDelegation(rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *WorkflowService) ListDelegations(userId string) ([]model.DelegationRule, error) {
	return s.storage.ListDelegations(userId)
}
