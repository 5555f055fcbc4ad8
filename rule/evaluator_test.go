package rule

import (
	"testing"

	api "github.com/signoff-io/signoff/api/v1"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	attrs := map[string]any{
		"amount":     2000.0,
		"department": "engineering",
		"type":       "procurement",
	}
	ev := NewEvaluator()

	tests := []struct {
		name       string
		expression string
		expected   bool
	}{
		{"empty rule is true", "", true},
		{"amount below threshold", "amount > 5000", false},
		{"amount above threshold", "amount > 1000", true},
		{"dollar binding", "$.amount > 1000 && $.department == 'engineering'", true},
		{"string compare", "department == 'finance'", false},
		{"combined", "amount > 1000 && type == 'procurement'", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Eval(tt.expression, attrs)
			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestEvalBadRule(t *testing.T) {
	ev := NewEvaluator()
	_, err := ev.Eval("amount >", map[string]any{"amount": 1})
	require.Error(t, err)
	require.True(t, api.HasReason(err, api.REASON_BAD_RULE))
}

func TestEvalCachesPrograms(t *testing.T) {
	ev := NewEvaluator()
	_, err := ev.Eval("amount > 10", map[string]any{"amount": 20})
	require.NoError(t, err)
	_, err = ev.Eval("amount > 10", map[string]any{"amount": 5})
	require.NoError(t, err)
	require.Len(t, ev.programs, 1)
}

func TestSubstitute(t *testing.T) {
	attrs := map[string]any{
		"department": "engineering",
		"region":     "emea",
	}
	require.Equal(t, "manager-engineering", Substitute("manager-{$.department}", attrs))
	require.Equal(t, "finance-emea-engineering", Substitute("finance-{$.region}-{$.department}", attrs))
	require.Equal(t, "plain-role", Substitute("plain-role", attrs))
}
