package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/directory"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/rule"
	"github.com/signoff-io/signoff/util"
)

// Resolver materializes a concrete workflow instance from a definition
// and the request attributes. Routing rules are evaluated here, once;
// later components never re-evaluate them. Construction is
// all-or-nothing: any routing failure returns before anything exists
// for the engine to persist.
type Resolver struct {
	directory directory.Client
	evaluator *rule.Evaluator
	attempts  int
}

func NewResolver(dir directory.Client, evaluator *rule.Evaluator) *Resolver {
	return &Resolver{
		directory: dir,
		evaluator: evaluator,
		attempts:  3,
	}
}

func (r *Resolver) Materialize(ctx context.Context, def model.WorkflowDefinition, requestId string, attributes map[string]any) (*model.WorkflowInstance, error) {
	wf := &model.WorkflowInstance{
		Id:                uuid.NewString(),
		RequestId:         requestId,
		DefinitionName:    def.Name,
		DefinitionVersion: def.Version,
		Definition:        def,
		Status:            model.WORKFLOW_PENDING,
		Attributes:        attributes,
		CreatedAt:         time.Now(),
	}
	orderIndex := 0
	for _, tpl := range def.Steps {
		matched, err := r.evaluator.Eval(tpl.Rule, attributes)
		if err != nil {
			return nil, err
		}
		if !matched {
			// template materializes zero steps; indexes stay dense
			continue
		}
		approvers, err := r.resolveApprovers(ctx, tpl, attributes)
		if err != nil {
			return nil, err
		}
		steps, err := r.materializeSteps(def, tpl, wf.Id, orderIndex, approvers)
		if err != nil {
			return nil, err
		}
		wf.Steps = append(wf.Steps, steps...)
		orderIndex++
	}
	if len(wf.Steps) == 0 {
		return nil, api.NewRoutingError(api.REASON_NO_APPROVER,
			"definition %s materialized no steps for request %s", def.Name, requestId)
	}
	if def.AutoApproveBelow > 0 {
		if amount, ok := numericAttribute(attributes, "amount"); ok && amount <= def.AutoApproveBelow {
			wf.AutoApprove = true
		}
	}
	return wf, nil
}

func (r *Resolver) resolveApprovers(ctx context.Context, tpl model.StepTemplate, attributes map[string]any) ([]string, error) {
	if len(tpl.ApproverIds) > 0 {
		out := make([]string, 0, len(tpl.ApproverIds))
		for _, id := range tpl.ApproverIds {
			out = append(out, rule.Substitute(id, attributes))
		}
		return out, nil
	}
	role := rule.Substitute(tpl.ApproverRole, attributes)
	var users []string
	err := util.Retry(ctx, r.attempts, 200*time.Millisecond, func() error {
		var err error
		users, err = r.directory.FindByRole(ctx, role)
		return err
	})
	if err != nil {
		return nil, api.NewRoutingError(api.REASON_DIRECTORY_UNAVAILABLE,
			"directory lookup for role %s failed: %v", role, err)
	}
	if len(users) == 0 {
		return nil, api.NewRoutingError(api.REASON_NO_APPROVER,
			"no directory entry matches role %s for step %s", role, tpl.Name)
	}
	return users, nil
}

func (r *Resolver) materializeSteps(def model.WorkflowDefinition, tpl model.StepTemplate, workflowId string, orderIndex int, approvers []string) ([]model.Step, error) {
	timeout := int64(def.StepTimeout(tpl) / time.Second)
	maxEsc := def.StepMaxEscalations(tpl)
	if tpl.Kind == model.STEP_KIND_PARALLEL {
		quorum := tpl.Quorum
		if quorum == 0 || quorum > len(approvers) {
			quorum = len(approvers)
		}
		steps := make([]model.Step, 0, len(approvers))
		for _, approver := range approvers {
			steps = append(steps, model.Step{
				Id:               uuid.NewString(),
				WorkflowId:       workflowId,
				TemplateName:     tpl.Name,
				OrderIndex:       orderIndex,
				Kind:             tpl.Kind,
				Status:           model.STEP_PENDING,
				Assignee:         approver,
				OriginalAssignee: approver,
				Quorum:           quorum,
				GroupSize:        len(approvers),
				NonBlocking:      tpl.NonBlocking,
				TimeoutSeconds:   timeout,
				MaxEscalations:   maxEsc,
			})
		}
		return steps, nil
	}
	// sequential_slot and conditional_branch materialize one step; a
	// multi-member role resolves to its first entry deterministically.
	approver := approvers[0]
	return []model.Step{{
		Id:               uuid.NewString(),
		WorkflowId:       workflowId,
		TemplateName:     tpl.Name,
		OrderIndex:       orderIndex,
		Kind:             tpl.Kind,
		Status:           model.STEP_PENDING,
		Assignee:         approver,
		OriginalAssignee: approver,
		NonBlocking:      tpl.NonBlocking,
		TimeoutSeconds:   timeout,
		MaxEscalations:   maxEsc,
	}}, nil
}

func numericAttribute(attributes map[string]any, name string) (float64, bool) {
	switch v := attributes[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
