package model

// Request/response shapes of the REST surface.

type WorkflowCreateRequest struct {
	RequestId  string `json:"requestId"`
	Definition string `json:"definition"`
}

type DecisionRequest struct {
	ActorId    string     `json:"actorId"`
	Action     ActionType `json:"action"`
	Comments   string     `json:"comments,omitempty"`
	DelegateTo string     `json:"delegateTo,omitempty"`
}

type CancelRequest struct {
	ActorId string `json:"actorId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type ResumeRequest struct {
	ActorId string `json:"actorId,omitempty"`
}

type BulkDecisionItem struct {
	WorkflowId string     `json:"workflowId"`
	StepId     string     `json:"stepId"`
	Action     ActionType `json:"action"`
	Comments   string     `json:"comments,omitempty"`
}

type BulkDecisionRequest struct {
	ActorId string             `json:"actorId"`
	Items   []BulkDecisionItem `json:"items"`
}

type BulkDecisionResult struct {
	WorkflowId string `json:"workflowId"`
	StepId     string `json:"stepId"`
	Ok         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// PendingApproval is one entry of an approver's queue, sorted by
// deadline with overdue entries first.
type PendingApproval struct {
	WorkflowId     string `json:"workflowId"`
	RequestId      string `json:"requestId"`
	DefinitionName string `json:"definitionName"`
	Step           Step   `json:"step"`
	Overdue        bool   `json:"overdue"`
}

type WorkflowStats struct {
	Total                 int64            `json:"total"`
	ByStatus              map[string]int64 `json:"byStatus"`
	Escalations           int64            `json:"escalations"`
	EscalationRate        float64          `json:"escalationRate"`
	MeanCompletionSeconds float64          `json:"meanCompletionSeconds"`
}
