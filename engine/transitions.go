package engine

import (
	"time"

	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/model"
)

// transition accumulates the effects of applying one command to one
// workflow: appended events, timer arms/disarms, and follow-up work
// that must run outside the lane (delegation resolution, manager
// lookups, system approvals). Nothing here touches storage or the
// network; the lane persists and dispatches after the transition
// function returns.
type transition struct {
	wf   *model.WorkflowInstance
	now  time.Time
	noop bool

	events  []model.WorkflowEvent
	arms    []timerArm
	disarms []string

	toActivate    []activationJob
	escalateJob   *escalationJob
	systemApprove []string
}

type timerArm struct {
	stepId     string
	generation int
	at         time.Time
}

func newTransition(wf *model.WorkflowInstance, now time.Time) *transition {
	return &transition{wf: wf, now: now}
}

func (t *transition) emit(typ model.EventType, stepId string, actor string, payload map[string]any) {
	t.wf.NextSeq++
	t.events = append(t.events, model.WorkflowEvent{
		WorkflowId: t.wf.Id,
		StepId:     stepId,
		Type:       typ,
		Actor:      actor,
		Payload:    payload,
		Sequence:   t.wf.NextSeq,
		Timestamp:  t.now,
	})
}

// applyCreate records creation and activates the first order index.
// Assignees for that index were delegation-resolved by the caller
// before the command entered the lane.
func (t *transition) applyCreate(assignees map[string]string) {
	t.emit(model.EVENT_WORKFLOW_CREATED, "", "", map[string]any{
		"requestId":  t.wf.RequestId,
		"definition": t.wf.DefinitionName,
		"steps":      len(t.wf.Steps),
	})
	for _, step := range t.wf.StepsAtIndex(0) {
		assignee, ok := assignees[step.Id]
		if !ok {
			assignee = step.OriginalAssignee
		}
		t.activateStep(step, assignee)
	}
}

func (t *transition) activateStep(step *model.Step, assignee string) {
	step.Status = model.STEP_ACTIVE
	step.Assignee = assignee
	step.ActivatedAt = t.now
	step.Deadline = t.now.Add(time.Duration(step.TimeoutSeconds) * time.Second)
	step.TimerGeneration++
	t.arms = append(t.arms, timerArm{stepId: step.Id, generation: step.TimerGeneration, at: step.Deadline})
	t.emit(model.EVENT_STEP_ACTIVATED, step.Id, "", map[string]any{
		"assignee": assignee,
		"deadline": step.Deadline,
	})
	if t.wf.AutoApprove {
		t.systemApprove = append(t.systemApprove, step.Id)
	}
}

// applyActivate is the in-lane half of activating a later step: the
// activator pool already resolved delegation outside the lane.
func (t *transition) applyActivate(stepId string, assignee string) {
	if t.wf.Status.IsTerminal() {
		t.noop = true
		return
	}
	step := t.wf.StepById(stepId)
	if step == nil || step.Status != model.STEP_PENDING {
		t.noop = true
		return
	}
	t.activateStep(step, assignee)
}

func (t *transition) applyDecide(stepId string, actor string, action model.ActionType, comments string, delegateTo string, adminOverride bool) (*model.Step, error) {
	step := t.wf.StepById(stepId)
	// a retried identical decision is a no-op even after the workflow
	// closed, so callers can repeat a request that already succeeded
	if step != nil && step.Decision != nil && step.Decision.Actor == actor && step.Decision.Action == action {
		t.noop = true
		return step, nil
	}
	if t.wf.Status.IsTerminal() {
		return nil, api.NewConflictError(api.REASON_WORKFLOW_CLOSED,
			"workflow %s is %s", t.wf.Id, t.wf.Status)
	}
	if step == nil {
		return nil, api.NewValidationError(api.REASON_STEP_NOT_FOUND,
			"step %s not found in workflow %s", stepId, t.wf.Id)
	}
	if step.Status.IsTerminal() {
		if step.Decision != nil {
			return nil, api.NewConflictError(api.REASON_STEP_ALREADY_DECIDED,
				"step %s already decided by %s", stepId, step.Decision.Actor)
		}
		return nil, api.NewConflictError(api.REASON_STEP_NOT_ACTIVE,
			"step %s is %s", stepId, step.Status)
	}
	if !step.IsActive() {
		return nil, api.NewConflictError(api.REASON_STEP_NOT_ACTIVE,
			"step %s is %s", stepId, step.Status)
	}
	if actor != step.Assignee && actor != model.SYSTEM_ACTOR && !adminOverride {
		return nil, api.NewValidationError(api.REASON_NOT_ASSIGNEE,
			"%s is not the assignee of step %s", actor, stepId)
	}

	switch action {
	case model.ACTION_APPROVE:
		t.decideStep(step, model.STEP_APPROVED, model.EVENT_STEP_APPROVED, actor, action, comments)
		t.advance()
	case model.ACTION_REJECT:
		t.decideStep(step, model.STEP_REJECTED, model.EVENT_STEP_REJECTED, actor, action, comments)
		if step.NonBlocking {
			t.advance()
		} else {
			// fail-fast: an authoritative rejection closes the workflow
			// without waiting for parallel siblings
			t.failWorkflow("Rejected", actor)
		}
	case model.ACTION_REQUEST_INFO:
		t.applyRequestInfo(step, actor, comments)
	case model.ACTION_DELEGATE:
		if len(delegateTo) == 0 {
			return nil, api.NewValidationError(api.REASON_BAD_ACTION,
				"delegate requires a delegateTo target")
		}
		t.applyDelegate(step, actor, delegateTo, comments)
	default:
		return nil, api.NewValidationError(api.REASON_BAD_ACTION, "unknown action %q", action)
	}
	return step, nil
}

func (t *transition) decideStep(step *model.Step, status model.StepStatus, eventType model.EventType, actor string, action model.ActionType, comments string) {
	step.Status = status
	step.Decision = &model.Decision{
		Action:    action,
		Actor:     actor,
		Comments:  comments,
		DecidedAt: t.now,
	}
	t.disarmStep(step)
	t.emit(eventType, step.Id, actor, map[string]any{"comments": comments})
}

func (t *transition) applyRequestInfo(step *model.Step, actor string, comments string) {
	t.emit(model.EVENT_INFO_REQUESTED, step.Id, actor, map[string]any{"comments": comments})
	if t.wf.Definition.OnRequestInfo != model.REQUEST_INFO_PAUSE {
		return
	}
	if step.PausedRemaining > 0 {
		// already paused, nothing more to stop
		return
	}
	remaining := step.Deadline.Sub(t.now)
	if remaining < 0 {
		remaining = 0
	}
	step.PausedRemaining = remaining
	step.Deadline = time.Time{}
	t.disarmStep(step)
	t.emit(model.EVENT_DEADLINE_PAUSED, step.Id, actor, map[string]any{
		"remaining": remaining.String(),
	})
}

func (t *transition) applyResume(stepId string, actor string) (*model.Step, error) {
	if t.wf.Status.IsTerminal() {
		return nil, api.NewConflictError(api.REASON_WORKFLOW_CLOSED, "workflow %s is %s", t.wf.Id, t.wf.Status)
	}
	step := t.wf.StepById(stepId)
	if step == nil {
		return nil, api.NewValidationError(api.REASON_STEP_NOT_FOUND, "step %s not found in workflow %s", stepId, t.wf.Id)
	}
	if !step.IsActive() {
		return nil, api.NewConflictError(api.REASON_STEP_NOT_ACTIVE, "step %s is %s", stepId, step.Status)
	}
	if step.PausedRemaining <= 0 {
		t.noop = true
		return step, nil
	}
	// re-arm with the remaining duration from before the pause
	step.Deadline = t.now.Add(step.PausedRemaining)
	step.PausedRemaining = 0
	step.TimerGeneration++
	t.arms = append(t.arms, timerArm{stepId: step.Id, generation: step.TimerGeneration, at: step.Deadline})
	t.emit(model.EVENT_DEADLINE_RESUMED, step.Id, actor, map[string]any{"deadline": step.Deadline})
	return step, nil
}

// applyDelegate swaps the assignee. The deadline is NOT re-armed:
// whatever remains of the original duration keeps running, so repeated
// self-delegation can not stretch a deadline.
func (t *transition) applyDelegate(step *model.Step, actor string, newAssignee string, comments string) {
	previous := step.Assignee
	if previous == newAssignee {
		t.noop = true
		return
	}
	step.Status = model.STEP_DELEGATED
	step.Assignee = newAssignee
	step.Status = model.STEP_ACTIVE
	t.emit(model.EVENT_STEP_DELEGATED, step.Id, actor, map[string]any{
		"from":     previous,
		"to":       newAssignee,
		"comments": comments,
	})
}

// applyEscalate handles a deadline firing. The generation check is how
// a decision the lane observed first beats a concurrent firing: the
// decision disarmed and the step left active state, so the stale firing
// lands here and is dropped.
func (t *transition) applyEscalate(stepId string, generation int) {
	if t.wf.Status.IsTerminal() {
		t.noop = true
		return
	}
	step := t.wf.StepById(stepId)
	if step == nil || !step.IsActive() || step.TimerGeneration != generation {
		t.noop = true
		return
	}
	if step.PausedRemaining > 0 {
		t.noop = true
		return
	}
	if step.EscalationCount >= step.MaxEscalations {
		t.exhaustEscalation(step)
		return
	}
	// manager lookup is network I/O and happens outside the lane; the
	// deadline entry stays armed so a lost job is re-fired by recovery
	t.escalateJob = &escalationJob{
		workflowId:      t.wf.Id,
		stepId:          step.Id,
		generation:      generation,
		currentAssignee: step.Assignee,
	}
	t.noop = true
}

// applyEscalateApply is the in-lane half of escalation, after the
// activator pool resolved the manager. Empty newAssignee means the
// directory has no usable manager; that exhausts the chain.
func (t *transition) applyEscalateApply(stepId string, generation int, newAssignee string) {
	if t.wf.Status.IsTerminal() {
		t.noop = true
		return
	}
	step := t.wf.StepById(stepId)
	if step == nil || !step.IsActive() || step.TimerGeneration != generation {
		t.noop = true
		return
	}
	if len(newAssignee) == 0 || step.EscalationCount >= step.MaxEscalations {
		t.exhaustEscalation(step)
		return
	}
	previous := step.Assignee
	step.EscalationCount++
	step.Status = model.STEP_ESCALATED
	step.Assignee = newAssignee
	step.Status = model.STEP_ACTIVE
	step.Deadline = t.now.Add(time.Duration(step.TimeoutSeconds) * time.Second)
	step.TimerGeneration++
	t.arms = append(t.arms, timerArm{stepId: step.Id, generation: step.TimerGeneration, at: step.Deadline})
	t.emit(model.EVENT_STEP_ESCALATED, step.Id, model.SYSTEM_ACTOR, map[string]any{
		"from":            previous,
		"to":              newAssignee,
		"escalationCount": step.EscalationCount,
		"deadline":        step.Deadline,
	})
}

func (t *transition) exhaustEscalation(step *model.Step) {
	step.Status = model.STEP_ESCALATED_UNRESOLVED
	t.disarmStep(step)
	t.emit(model.EVENT_STEP_ESCALATED, step.Id, model.SYSTEM_ACTOR, map[string]any{
		"exhausted":       true,
		"escalationCount": step.EscalationCount,
	})
	t.failWorkflow(api.REASON_ESCALATION_EXHAUSTED, model.SYSTEM_ACTOR)
}

func (t *transition) applyCancel(actor string, reason string) error {
	if t.wf.Status.IsTerminal() {
		return api.NewConflictError(api.REASON_WORKFLOW_CLOSED, "workflow %s is %s", t.wf.Id, t.wf.Status)
	}
	t.skipOpenSteps(actor)
	t.wf.Status = model.WORKFLOW_CANCELLED
	t.wf.Reason = reason
	completed := t.now
	t.wf.CompletedAt = &completed
	t.emit(model.EVENT_WORKFLOW_CANCELLED, "", actor, map[string]any{"reason": reason})
	return nil
}

// failWorkflow closes the workflow as rejected, skipping every step
// that is not yet terminal and disarming their timers.
func (t *transition) failWorkflow(reason string, actor string) {
	t.skipOpenSteps(actor)
	t.wf.Status = model.WORKFLOW_REJECTED
	t.wf.Reason = reason
	completed := t.now
	t.wf.CompletedAt = &completed
	t.emit(model.EVENT_WORKFLOW_REJECTED, "", actor, map[string]any{"reason": reason})
}

func (t *transition) skipOpenSteps(actor string) {
	for i := range t.wf.Steps {
		step := &t.wf.Steps[i]
		if step.Status.IsTerminal() {
			continue
		}
		if step.IsActive() {
			t.disarmStep(step)
		}
		step.Status = model.STEP_SKIPPED
		t.emit(model.EVENT_STEP_SKIPPED, step.Id, actor, nil)
	}
}

func (t *transition) disarmStep(step *model.Step) {
	t.disarms = append(t.disarms, step.Id)
}

// advance walks the order indexes after a step reached a terminal
// status: satisfied groups skip their leftovers, the next group's
// pending steps are queued for activation, and a fully terminal
// workflow becomes approved.
func (t *transition) advance() {
	maxIndex := -1
	for i := range t.wf.Steps {
		if t.wf.Steps[i].OrderIndex > maxIndex {
			maxIndex = t.wf.Steps[i].OrderIndex
		}
	}
	for idx := 0; idx <= maxIndex; idx++ {
		group := t.wf.StepsAtIndex(idx)
		if len(group) == 0 {
			continue
		}
		if group[0].Kind != model.STEP_KIND_PARALLEL && rejectedNonBlocking(group) {
			// a non-blocking rejection in the chain is passed over, the
			// workflow continues at the next index
			continue
		}
		quorum := groupQuorum(group)
		approved, nonTerminal := 0, 0
		for _, s := range group {
			switch {
			case s.Status == model.STEP_APPROVED:
				approved++
			case !s.Status.IsTerminal():
				nonTerminal++
			}
		}
		if approved >= quorum {
			// quorum reached: leftovers are skipped, never decided
			for _, s := range group {
				if s.Status.IsTerminal() {
					continue
				}
				if s.IsActive() {
					t.disarmStep(s)
				}
				s.Status = model.STEP_SKIPPED
				t.emit(model.EVENT_STEP_SKIPPED, s.Id, "", map[string]any{"quorumReached": true})
			}
			continue
		}
		if approved+nonTerminal < quorum {
			t.failWorkflow(api.REASON_QUORUM_UNREACHABLE, model.SYSTEM_ACTOR)
			return
		}
		// group still in progress; queue activation for steps that have
		// not started, then stop looking further
		for _, s := range group {
			if s.Status == model.STEP_PENDING {
				t.toActivate = append(t.toActivate, activationJob{
					workflowId:       t.wf.Id,
					stepId:           s.Id,
					originalAssignee: s.OriginalAssignee,
				})
			}
		}
		return
	}
	t.wf.Status = model.WORKFLOW_APPROVED
	completed := t.now
	t.wf.CompletedAt = &completed
	t.emit(model.EVENT_WORKFLOW_APPROVED, "", "", nil)
}

func rejectedNonBlocking(group []*model.Step) bool {
	for _, s := range group {
		if !s.NonBlocking || s.Status != model.STEP_REJECTED {
			return false
		}
	}
	return true
}

func groupQuorum(group []*model.Step) int {
	if group[0].Kind == model.STEP_KIND_PARALLEL && group[0].Quorum > 0 {
		return group[0].Quorum
	}
	return 1
}
