package metadata

import (
	"testing"

	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence/memory"
	"github.com/stretchr/testify/require"
)

func validDefinition() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name: "expense-approval",
		Steps: []model.StepTemplate{
			{Name: "manager-review", Kind: model.STEP_KIND_SEQUENTIAL, ApproverRole: "manager"},
			{Name: "cfo-review", Kind: model.STEP_KIND_CONDITIONAL, Rule: "amount > 10000", ApproverIds: []string{"cfo"}},
		},
	}
}

func TestSaveAndGetDefinition(t *testing.T) {
	svc := NewMetadataService(memory.NewStorage())
	require.NoError(t, svc.SaveDefinition(validDefinition()))

	def, err := svc.GetDefinition("expense-approval")
	require.NoError(t, err)
	require.Len(t, def.Steps, 2)
	require.False(t, def.CreatedAt.IsZero())

	require.NoError(t, svc.DeleteDefinition("expense-approval"))
	_, err = svc.GetDefinition("expense-approval")
	require.Error(t, err)
}

func TestGetDefinitionServedFromCache(t *testing.T) {
	storage := memory.NewStorage()
	svc := NewMetadataService(storage)
	require.NoError(t, svc.SaveDefinition(validDefinition()))
	_, err := svc.GetDefinition("expense-approval")
	require.NoError(t, err)

	// removed behind the cache's back: the cached copy still serves
	require.NoError(t, storage.DeleteDefinition("expense-approval"))
	def, err := svc.GetDefinition("expense-approval")
	require.NoError(t, err)
	require.Equal(t, "expense-approval", def.Name)
}

func TestValidateDefinition(t *testing.T) {
	svc := NewMetadataService(memory.NewStorage())
	cases := []struct {
		name   string
		mutate func(*model.WorkflowDefinition)
	}{
		{"empty name", func(d *model.WorkflowDefinition) { d.Name = "" }},
		{"no steps", func(d *model.WorkflowDefinition) { d.Steps = nil }},
		{"bad onRequestInfo", func(d *model.WorkflowDefinition) { d.OnRequestInfo = "explode" }},
		{"empty step name", func(d *model.WorkflowDefinition) { d.Steps[0].Name = "" }},
		{"duplicate step name", func(d *model.WorkflowDefinition) { d.Steps[1].Name = d.Steps[0].Name }},
		{"invalid kind", func(d *model.WorkflowDefinition) { d.Steps[0].Kind = "circular" }},
		{"no approvers", func(d *model.WorkflowDefinition) { d.Steps[0].ApproverRole = "" }},
		{"conditional without rule", func(d *model.WorkflowDefinition) { d.Steps[1].Rule = "" }},
		{"quorum outside parallel", func(d *model.WorkflowDefinition) { d.Steps[0].Quorum = 2 }},
		{"negative timeout", func(d *model.WorkflowDefinition) { d.Steps[0].TimeoutSeconds = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validDefinition()
			tc.mutate(&def)
			err := svc.ValidateDefinition(def)
			require.Error(t, err)
			require.True(t, api.HasReason(err, api.REASON_DEFINITION_INVALID))
		})
	}
	require.NoError(t, svc.ValidateDefinition(validDefinition()))
}
