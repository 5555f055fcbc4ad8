package model

import "time"

type StepKind string

const (
	STEP_KIND_SEQUENTIAL  StepKind = "sequential_slot"
	STEP_KIND_PARALLEL    StepKind = "parallel_group"
	STEP_KIND_CONDITIONAL StepKind = "conditional_branch"
)

func ValidStepKind(k StepKind) bool {
	switch k {
	case STEP_KIND_SEQUENTIAL, STEP_KIND_PARALLEL, STEP_KIND_CONDITIONAL:
		return true
	}
	return false
}

type RequestInfoPolicy string

const (
	REQUEST_INFO_PAUSE RequestInfoPolicy = "pause"
	REQUEST_INFO_NONE  RequestInfoPolicy = "none"
)

// StepTemplate describes one approval point of a definition. Either
// ApproverRole or ApproverIds must be set; both support {$.attr}
// substitution from request attributes.
type StepTemplate struct {
	Name           string   `json:"name"`
	Kind           StepKind `json:"kind"`
	Rule           string   `json:"rule,omitempty"`
	ApproverRole   string   `json:"approverRole,omitempty"`
	ApproverIds    []string `json:"approverIds,omitempty"`
	Quorum         int      `json:"quorum,omitempty"`
	TimeoutSeconds int64    `json:"timeoutSeconds,omitempty"`
	NonBlocking    bool     `json:"nonBlocking,omitempty"`
	MaxEscalations int      `json:"maxEscalations,omitempty"`
}

// WorkflowDefinition is the registered template a workflow instance is
// built from. A copy is embedded in every instance at creation time, so
// editing a definition never changes in-flight workflows.
type WorkflowDefinition struct {
	Name                  string            `json:"name"`
	Version               int               `json:"version"`
	Description           string            `json:"description,omitempty"`
	Steps                 []StepTemplate    `json:"steps"`
	MaxEscalations        int               `json:"maxEscalations,omitempty"`
	OnRequestInfo         RequestInfoPolicy `json:"onRequestInfo,omitempty"`
	AutoApproveBelow      float64           `json:"autoApproveBelow,omitempty"`
	DefaultTimeoutSeconds int64             `json:"defaultTimeoutSeconds,omitempty"`
	CreatedAt             time.Time         `json:"createdAt,omitempty"`
}

const DEFAULT_MAX_ESCALATIONS = 3
const DEFAULT_STEP_TIMEOUT_SECONDS = 24 * 60 * 60

// StepTimeout returns the armed duration for a step built from tpl.
func (d *WorkflowDefinition) StepTimeout(tpl StepTemplate) time.Duration {
	if tpl.TimeoutSeconds > 0 {
		return time.Duration(tpl.TimeoutSeconds) * time.Second
	}
	if d.DefaultTimeoutSeconds > 0 {
		return time.Duration(d.DefaultTimeoutSeconds) * time.Second
	}
	return time.Duration(DEFAULT_STEP_TIMEOUT_SECONDS) * time.Second
}

// StepMaxEscalations returns the escalation bound for a step built from tpl.
func (d *WorkflowDefinition) StepMaxEscalations(tpl StepTemplate) int {
	if tpl.MaxEscalations > 0 {
		return tpl.MaxEscalations
	}
	if d.MaxEscalations > 0 {
		return d.MaxEscalations
	}
	return DEFAULT_MAX_ESCALATIONS
}
