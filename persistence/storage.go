package persistence

import (
	"fmt"
	"time"

	"github.com/signoff-io/signoff/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("error in storage layer: %s", e.Message)
}

// DeadlineEntry is one durable armed deadline. Generation ties the entry
// to a specific arming of the step's timer; a firing with a stale
// generation is discarded by the engine.
type DeadlineEntry struct {
	WorkflowId string    `json:"workflowId"`
	StepId     string    `json:"stepId"`
	Generation int       `json:"generation"`
	FireAt     time.Time `json:"fireAt"`
}

type WorkflowStorage interface {
	// SaveWorkflow persists the instance and appends its new events in
	// one atomic unit. GlobalSeq is assigned to each event by the store.
	SaveWorkflow(wf *model.WorkflowInstance, events []model.WorkflowEvent) error
	GetWorkflow(id string) (*model.WorkflowInstance, error)
	ListByRequest(requestId string) ([]*model.WorkflowInstance, error)
	ListOpenWorkflows() ([]*model.WorkflowInstance, error)
	ListWorkflows() ([]*model.WorkflowInstance, error)
	ListEvents(workflowId string, fromSeq int64) ([]model.WorkflowEvent, error)
	ListAllEvents(fromGlobalSeq int64, limit int) ([]model.WorkflowEvent, error)
}

type DelegationStorage interface {
	SaveDelegation(rule model.DelegationRule) error
	ListDelegations(userId string) ([]model.DelegationRule, error)
}

type DeadlineStorage interface {
	AddDeadline(entry DeadlineEntry) error
	RemoveDeadline(workflowId string, stepId string) error
	DueDeadlines(now time.Time, batch int) ([]DeadlineEntry, error)
}

type CursorStorage interface {
	GetCursor(name string) (int64, error)
	SaveCursor(name string, value int64) error
}

type MetadataStorage interface {
	SaveDefinition(def model.WorkflowDefinition) error
	GetDefinition(name string) (*model.WorkflowDefinition, error)
	DeleteDefinition(name string) error
}

type Storage interface {
	WorkflowStorage
	DelegationStorage
	DeadlineStorage
	CursorStorage
	MetadataStorage
}
