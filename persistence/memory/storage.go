package memory

import (
	"sort"
	"sync"
	"time"

	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
	"github.com/signoff-io/signoff/util"
)

var _ persistence.Storage = new(Storage)

// Storage keeps everything in process memory. Used by tests and for
// single-node development runs. Values are copied through the JSON
// codec on the way in and out so callers never alias stored state.
type Storage struct {
	mu          sync.RWMutex
	workflows   map[string]*model.WorkflowInstance
	byRequest   map[string][]string
	events      map[string][]model.WorkflowEvent
	allEvents   []model.WorkflowEvent
	globalSeq   int64
	delegations map[string][]model.DelegationRule
	deadlines   map[string]persistence.DeadlineEntry
	cursors     map[string]int64
	definitions map[string]model.WorkflowDefinition

	wfCodec util.EncoderDecoder[model.WorkflowInstance]
}

func NewStorage() *Storage {
	return &Storage{
		workflows:   make(map[string]*model.WorkflowInstance),
		byRequest:   make(map[string][]string),
		events:      make(map[string][]model.WorkflowEvent),
		delegations: make(map[string][]model.DelegationRule),
		deadlines:   make(map[string]persistence.DeadlineEntry),
		cursors:     make(map[string]int64),
		definitions: make(map[string]model.WorkflowDefinition),
		wfCodec:     util.NewJsonEncoderDecoder[model.WorkflowInstance](),
	}
}

func (s *Storage) copyWorkflow(wf *model.WorkflowInstance) (*model.WorkflowInstance, error) {
	data, err := s.wfCodec.Encode(*wf)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	out, err := s.wfCodec.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return out, nil
}

func (s *Storage) SaveWorkflow(wf *model.WorkflowInstance, events []model.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.copyWorkflow(wf)
	if err != nil {
		return err
	}
	if _, exists := s.workflows[wf.Id]; !exists {
		s.byRequest[wf.RequestId] = append(s.byRequest[wf.RequestId], wf.Id)
	}
	s.workflows[wf.Id] = stored
	for _, ev := range events {
		s.globalSeq++
		ev.GlobalSeq = s.globalSeq
		s.events[ev.WorkflowId] = append(s.events[ev.WorkflowId], ev)
		s.allEvents = append(s.allEvents, ev)
	}
	return nil
}

func (s *Storage) GetWorkflow(id string) (*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, api.NewValidationError(api.REASON_WORKFLOW_NOT_FOUND, "workflow %s not found", id)
	}
	return s.copyWorkflow(wf)
}

func (s *Storage) ListByRequest(requestId string) ([]*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.WorkflowInstance
	for _, id := range s.byRequest[requestId] {
		wf, err := s.copyWorkflow(s.workflows[id])
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func (s *Storage) ListOpenWorkflows() ([]*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.WorkflowInstance
	for _, wf := range s.workflows {
		if wf.Status.IsTerminal() {
			continue
		}
		cp, err := s.copyWorkflow(wf)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Storage) ListWorkflows() ([]*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.WorkflowInstance
	for _, wf := range s.workflows {
		cp, err := s.copyWorkflow(wf)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Storage) ListEvents(workflowId string, fromSeq int64) ([]model.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WorkflowEvent
	for _, ev := range s.events[workflowId] {
		if ev.Sequence >= fromSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Storage) ListAllEvents(fromGlobalSeq int64, limit int) ([]model.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WorkflowEvent
	for _, ev := range s.allEvents {
		if ev.GlobalSeq > fromGlobalSeq {
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Storage) SaveDelegation(rule model.DelegationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegations[rule.Delegator] = append(s.delegations[rule.Delegator], rule)
	return nil
}

func (s *Storage) ListDelegations(userId string) ([]model.DelegationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DelegationRule, len(s.delegations[userId]))
	copy(out, s.delegations[userId])
	return out, nil
}

func deadlineKey(workflowId string, stepId string) string {
	return workflowId + "|" + stepId
}

func (s *Storage) AddDeadline(entry persistence.DeadlineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[deadlineKey(entry.WorkflowId, entry.StepId)] = entry
	return nil
}

func (s *Storage) RemoveDeadline(workflowId string, stepId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadlines, deadlineKey(workflowId, stepId))
	return nil
}

func (s *Storage) DueDeadlines(now time.Time, batch int) ([]persistence.DeadlineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []persistence.DeadlineEntry
	for _, entry := range s.deadlines {
		if !entry.FireAt.After(now) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	if batch > 0 && len(out) > batch {
		out = out[:batch]
	}
	return out, nil
}

func (s *Storage) GetCursor(name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[name], nil
}

func (s *Storage) SaveCursor(name string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = value
	return nil
}

func (s *Storage) SaveDefinition(def model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[def.Name] = def
	return nil
}

func (s *Storage) GetDefinition(name string) (*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[name]
	if !ok {
		return nil, api.NewValidationError(api.REASON_DEFINITION_NOT_FOUND, "definition %s not found", name)
	}
	return &def, nil
}

func (s *Storage) DeleteDefinition(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.definitions, name)
	return nil
}
