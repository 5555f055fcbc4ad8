package delegation

import (
	"time"

	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/logger"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
	"go.uber.org/zap"
)

// MaxDepth bounds a delegation walk. Delegation data is operator
// entered and can not be assumed acyclic.
const MaxDepth = 5

type Resolver struct {
	storage persistence.DelegationStorage
}

func NewResolver(storage persistence.DelegationStorage) *Resolver {
	return &Resolver{storage: storage}
}

// Resolve walks delegation edges from userId and returns the effective
// decision maker at the given instant. At each hop the rule whose
// window contains `at` and whose CreatedAt is latest wins. The walk is
// iterative with a visited set and a depth bound; exceeding either
// fails with DelegationCycleDetected.
func (r *Resolver) Resolve(userId string, at time.Time) (string, error) {
	current := userId
	visited := map[string]bool{current: true}
	for depth := 0; depth <= MaxDepth; depth++ {
		rules, err := r.storage.ListDelegations(current)
		if err != nil {
			return "", err
		}
		next := pickRule(rules, at)
		if next == nil {
			return current, nil
		}
		if visited[next.Delegate] {
			return "", api.NewRoutingError(api.REASON_DELEGATION_CYCLE,
				"delegation cycle detected starting from %s at %s", userId, next.Delegate)
		}
		logger.Debug("following delegation", zap.String("from", current), zap.String("to", next.Delegate))
		current = next.Delegate
		visited[current] = true
	}
	return "", api.NewRoutingError(api.REASON_DELEGATION_CYCLE,
		"delegation chain from %s exceeds max depth %d", userId, MaxDepth)
}

func pickRule(rules []model.DelegationRule, at time.Time) *model.DelegationRule {
	var best *model.DelegationRule
	for i := range rules {
		if !rules[i].ActiveAt(at) {
			continue
		}
		if best == nil || rules[i].CreatedAt.After(best.CreatedAt) {
			best = &rules[i]
		}
	}
	return best
}
