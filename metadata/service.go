package metadata

import (
	"time"

	c "github.com/patrickmn/go-cache"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
)

type MetadataService interface {
	SaveDefinition(def model.WorkflowDefinition) error
	GetDefinition(name string) (*model.WorkflowDefinition, error)
	DeleteDefinition(name string) error
	ValidateDefinition(def model.WorkflowDefinition) error
}

type metadataService struct {
	storage persistence.MetadataStorage
	cache   *c.Cache
}

func NewMetadataService(storage persistence.MetadataStorage) MetadataService {
	return &metadataService{
		storage: storage,
		cache:   c.New(5*time.Minute, 10*time.Minute),
	}
}

func (s *metadataService) SaveDefinition(def model.WorkflowDefinition) error {
	if err := s.ValidateDefinition(def); err != nil {
		return err
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now()
	}
	if err := s.storage.SaveDefinition(def); err != nil {
		return err
	}
	s.cache.Delete(def.Name)
	return nil
}

func (s *metadataService) GetDefinition(name string) (*model.WorkflowDefinition, error) {
	if cached, found := s.cache.Get(name); found {
		def := cached.(model.WorkflowDefinition)
		return &def, nil
	}
	def, err := s.storage.GetDefinition(name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, *def, c.DefaultExpiration)
	return def, nil
}

func (s *metadataService) DeleteDefinition(name string) error {
	if err := s.storage.DeleteDefinition(name); err != nil {
		return err
	}
	s.cache.Delete(name)
	return nil
}

func (s *metadataService) ValidateDefinition(def model.WorkflowDefinition) error {
	if len(def.Name) == 0 {
		return api.NewValidationError(api.REASON_DEFINITION_INVALID, "definition name can not be empty")
	}
	if len(def.Steps) == 0 {
		return api.NewValidationError(api.REASON_DEFINITION_INVALID, "definition %s has no steps", def.Name)
	}
	if def.OnRequestInfo != "" && def.OnRequestInfo != model.REQUEST_INFO_PAUSE && def.OnRequestInfo != model.REQUEST_INFO_NONE {
		return api.NewValidationError(api.REASON_DEFINITION_INVALID, "invalid onRequestInfo %q", def.OnRequestInfo)
	}
	names := make(map[string]bool)
	for _, tpl := range def.Steps {
		if len(tpl.Name) == 0 {
			return api.NewValidationError(api.REASON_DEFINITION_INVALID, "step template name can not be empty")
		}
		if names[tpl.Name] {
			return api.NewValidationError(api.REASON_DEFINITION_INVALID, "step template %s is duplicate", tpl.Name)
		}
		names[tpl.Name] = true
		if !model.ValidStepKind(tpl.Kind) {
			return api.NewValidationError(api.REASON_DEFINITION_INVALID, "step %s has invalid kind %q", tpl.Name, tpl.Kind)
		}
		if len(tpl.ApproverRole) == 0 && len(tpl.ApproverIds) == 0 {
			return api.NewValidationError(api.REASON_DEFINITION_INVALID, "step %s needs approverRole or approverIds", tpl.Name)
		}
		if tpl.Kind == model.STEP_KIND_CONDITIONAL && len(tpl.Rule) == 0 {
			return api.NewValidationError(api.REASON_DEFINITION_INVALID, "conditional step %s needs a rule", tpl.Name)
		}
		if tpl.Kind != model.STEP_KIND_PARALLEL && tpl.Quorum != 0 {
			return api.NewValidationError(api.REASON_DEFINITION_INVALID, "step %s: quorum is only valid on parallel groups", tpl.Name)
		}
		if tpl.Quorum < 0 || tpl.TimeoutSeconds < 0 || tpl.MaxEscalations < 0 {
			return api.NewValidationError(api.REASON_DEFINITION_INVALID, "step %s has negative bounds", tpl.Name)
		}
	}
	return nil
}
