package model

import "time"

type WorkflowStatus string

const (
	WORKFLOW_PENDING   WorkflowStatus = "pending"
	WORKFLOW_APPROVED  WorkflowStatus = "approved"
	WORKFLOW_REJECTED  WorkflowStatus = "rejected"
	WORKFLOW_CANCELLED WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) IsTerminal() bool {
	return s == WORKFLOW_APPROVED || s == WORKFLOW_REJECTED || s == WORKFLOW_CANCELLED
}

type StepStatus string

const (
	STEP_PENDING              StepStatus = "pending"
	STEP_ACTIVE               StepStatus = "active"
	STEP_APPROVED             StepStatus = "approved"
	STEP_REJECTED             StepStatus = "rejected"
	STEP_DELEGATED            StepStatus = "delegated"
	STEP_ESCALATED            StepStatus = "escalated"
	STEP_SKIPPED              StepStatus = "skipped"
	STEP_ESCALATED_UNRESOLVED StepStatus = "escalated_unresolved"
)

// IsTerminal reports whether no further transition is possible for the
// step. delegated and escalated are pass-through statuses; the step is
// re-activated with a new assignee in the same transition, so its
// resting status is active again.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case STEP_APPROVED, STEP_REJECTED, STEP_SKIPPED, STEP_ESCALATED_UNRESOLVED:
		return true
	}
	return false
}

type ActionType string

const (
	ACTION_APPROVE      ActionType = "approve"
	ACTION_REJECT       ActionType = "reject"
	ACTION_REQUEST_INFO ActionType = "request_info"
	ACTION_DELEGATE     ActionType = "delegate"
	ACTION_ESCALATE     ActionType = "escalate"
)

const SYSTEM_ACTOR = "system"

type Decision struct {
	Action    ActionType `json:"action"`
	Actor     string     `json:"actor"`
	Comments  string     `json:"comments,omitempty"`
	DecidedAt time.Time  `json:"decidedAt"`
}

type Step struct {
	Id           string     `json:"id"`
	WorkflowId   string     `json:"workflowId"`
	TemplateName string     `json:"templateName"`
	OrderIndex   int        `json:"orderIndex"`
	Kind         StepKind   `json:"kind"`
	Status       StepStatus `json:"status"`
	// Assignee is the effective approver after delegation resolution;
	// OriginalAssignee keeps the identity the resolver picked first.
	Assignee         string `json:"assignee"`
	OriginalAssignee string `json:"originalAssignee"`
	Quorum           int    `json:"quorum,omitempty"`
	GroupSize        int    `json:"groupSize,omitempty"`
	NonBlocking      bool   `json:"nonBlocking,omitempty"`
	TimeoutSeconds   int64  `json:"timeoutSeconds"`
	MaxEscalations   int    `json:"maxEscalations"`

	Deadline        time.Time `json:"deadline,omitempty"`
	TimerGeneration int       `json:"timerGeneration"`
	// PausedRemaining holds the unexpired part of the deadline while a
	// request_info pause is in effect; zero when the clock is running.
	PausedRemaining time.Duration `json:"pausedRemaining,omitempty"`
	EscalationCount int           `json:"escalationCount"`
	ActivatedAt     time.Time     `json:"activatedAt,omitempty"`
	Decision        *Decision     `json:"decision,omitempty"`
}

func (s *Step) IsActive() bool {
	return s.Status == STEP_ACTIVE
}

// WorkflowInstance is one in-flight approval process. It is owned by the
// execution engine and mutated only inside the engine lane for its id.
type WorkflowInstance struct {
	Id                string             `json:"id"`
	RequestId         string             `json:"requestId"`
	DefinitionName    string             `json:"definitionName"`
	DefinitionVersion int                `json:"definitionVersion"`
	Definition        WorkflowDefinition `json:"definition"`
	Status            WorkflowStatus     `json:"status"`
	Reason            string             `json:"reason,omitempty"`
	Attributes        map[string]any     `json:"attributes,omitempty"`
	AutoApprove       bool               `json:"autoApprove,omitempty"`
	Steps             []Step             `json:"steps"`
	NextSeq           int64              `json:"nextSeq"`
	CreatedAt         time.Time          `json:"createdAt"`
	CompletedAt       *time.Time         `json:"completedAt,omitempty"`
}

func (w *WorkflowInstance) StepById(stepId string) *Step {
	for i := range w.Steps {
		if w.Steps[i].Id == stepId {
			return &w.Steps[i]
		}
	}
	return nil
}

func (w *WorkflowInstance) StepsAtIndex(orderIndex int) []*Step {
	var out []*Step
	for i := range w.Steps {
		if w.Steps[i].OrderIndex == orderIndex {
			out = append(out, &w.Steps[i])
		}
	}
	return out
}

func (w *WorkflowInstance) ActiveSteps() []*Step {
	var out []*Step
	for i := range w.Steps {
		if w.Steps[i].IsActive() {
			out = append(out, &w.Steps[i])
		}
	}
	return out
}
