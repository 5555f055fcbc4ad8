package model

import "time"

type EventType string

const (
	EVENT_WORKFLOW_CREATED   EventType = "workflow_created"
	EVENT_STEP_ACTIVATED     EventType = "step_activated"
	EVENT_STEP_APPROVED      EventType = "step_approved"
	EVENT_STEP_REJECTED      EventType = "step_rejected"
	EVENT_STEP_DELEGATED     EventType = "step_delegated"
	EVENT_STEP_ESCALATED     EventType = "step_escalated"
	EVENT_STEP_SKIPPED       EventType = "step_skipped"
	EVENT_INFO_REQUESTED     EventType = "info_requested"
	EVENT_DEADLINE_PAUSED    EventType = "deadline_paused"
	EVENT_DEADLINE_RESUMED   EventType = "deadline_resumed"
	EVENT_DECISION_DENIED    EventType = "decision_denied"
	EVENT_WORKFLOW_APPROVED  EventType = "workflow_approved"
	EVENT_WORKFLOW_REJECTED  EventType = "workflow_rejected"
	EVENT_WORKFLOW_CANCELLED EventType = "workflow_cancelled"
)

// WorkflowEvent is the append-only record through which collaborators
// observe the engine. Sequence is monotonic per workflow and is the
// dedup key for at-least-once delivery; GlobalSeq orders the firehose
// feed across workflows.
type WorkflowEvent struct {
	WorkflowId string         `json:"workflowId"`
	StepId     string         `json:"stepId,omitempty"`
	Type       EventType      `json:"type"`
	Actor      string         `json:"actor,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Sequence   int64          `json:"sequence"`
	GlobalSeq  int64          `json:"globalSeq,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
