package api_v1

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CODE_VALIDATION Code = "validation"
	CODE_CONFLICT   Code = "conflict"
	CODE_ROUTING    Code = "routing"
	CODE_INTERNAL   Code = "internal"
)

const (
	REASON_WORKFLOW_NOT_FOUND    = "WorkflowNotFound"
	REASON_STEP_NOT_FOUND        = "StepNotFound"
	REASON_DEFINITION_NOT_FOUND  = "DefinitionNotFound"
	REASON_DEFINITION_INVALID    = "DefinitionInvalid"
	REASON_BAD_ACTION            = "BadAction"
	REASON_BAD_RULE              = "BadRule"
	REASON_WORKFLOW_CLOSED       = "WorkflowClosed"
	REASON_STEP_ALREADY_DECIDED  = "StepAlreadyDecided"
	REASON_STEP_NOT_ACTIVE       = "StepNotActive"
	REASON_NOT_ASSIGNEE          = "NotAssignee"
	REASON_NO_APPROVER           = "NoApproverResolvable"
	REASON_DELEGATION_CYCLE      = "DelegationCycleDetected"
	REASON_QUORUM_UNREACHABLE    = "QuorumUnreachable"
	REASON_ESCALATION_EXHAUSTED  = "EscalationExhausted"
	REASON_STORAGE               = "Storage"
	REASON_DIRECTORY_UNAVAILABLE = "DirectoryUnavailable"
	REASON_TICKET_UNAVAILABLE    = "TicketStoreUnavailable"
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Code, e.Reason, e.Message)
}

func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CODE_VALIDATION:
		return http.StatusBadRequest
	case CODE_CONFLICT:
		return http.StatusConflict
	case CODE_ROUTING:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func NewValidationError(reason string, format string, args ...any) *Error {
	return &Error{Code: CODE_VALIDATION, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(reason string, format string, args ...any) *Error {
	return &Error{Code: CODE_CONFLICT, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func NewRoutingError(reason string, format string, args ...any) *Error {
	return &Error{Code: CODE_ROUTING, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func NewInternalError(reason string, format string, args ...any) *Error {
	return &Error{Code: CODE_INTERNAL, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// HasReason reports whether err is an *Error carrying the given reason.
func HasReason(err error, reason string) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Reason == reason
	}
	return false
}
