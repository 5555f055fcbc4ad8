package delegation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence/memory"
	"github.com/stretchr/testify/require"
)

func rule(delegator string, delegate string, from time.Time, until time.Time, createdAt time.Time) model.DelegationRule {
	return model.DelegationRule{
		Id:        uuid.NewString(),
		Delegator: delegator,
		Delegate:  delegate,
		From:      from,
		Until:     until,
		CreatedAt: createdAt,
	}
}

func TestResolveNoDelegation(t *testing.T) {
	r := NewResolver(memory.NewStorage())
	out, err := r.Resolve("alice", time.Now())
	require.NoError(t, err)
	require.Equal(t, "alice", out)
}

func TestResolveSingleHop(t *testing.T) {
	storage := memory.NewStorage()
	now := time.Now()
	require.NoError(t, storage.SaveDelegation(rule("alice", "bob", now.Add(-time.Hour), now.Add(time.Hour), now.Add(-time.Hour))))
	r := NewResolver(storage)

	out, err := r.Resolve("alice", now)
	require.NoError(t, err)
	require.Equal(t, "bob", out)
}

func TestResolveExpiredWindow(t *testing.T) {
	storage := memory.NewStorage()
	now := time.Now()
	require.NoError(t, storage.SaveDelegation(rule("alice", "bob", now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(-2*time.Hour))))
	r := NewResolver(storage)

	out, err := r.Resolve("alice", now)
	require.NoError(t, err)
	require.Equal(t, "alice", out)
}

func TestResolveLatestRuleWins(t *testing.T) {
	storage := memory.NewStorage()
	now := time.Now()
	require.NoError(t, storage.SaveDelegation(rule("alice", "bob", now.Add(-time.Hour), now.Add(time.Hour), now.Add(-time.Hour))))
	require.NoError(t, storage.SaveDelegation(rule("alice", "carol", now.Add(-time.Hour), now.Add(time.Hour), now.Add(-30*time.Minute))))
	r := NewResolver(storage)

	out, err := r.Resolve("alice", now)
	require.NoError(t, err)
	require.Equal(t, "carol", out)
}

func TestResolveChain(t *testing.T) {
	storage := memory.NewStorage()
	now := time.Now()
	require.NoError(t, storage.SaveDelegation(rule("alice", "bob", now.Add(-time.Hour), now.Add(time.Hour), now)))
	require.NoError(t, storage.SaveDelegation(rule("bob", "carol", now.Add(-time.Hour), now.Add(time.Hour), now)))
	r := NewResolver(storage)

	out, err := r.Resolve("alice", now)
	require.NoError(t, err)
	require.Equal(t, "carol", out)
}

func TestResolveCycleDetected(t *testing.T) {
	storage := memory.NewStorage()
	now := time.Now()
	require.NoError(t, storage.SaveDelegation(rule("alice", "bob", now.Add(-time.Hour), now.Add(time.Hour), now)))
	require.NoError(t, storage.SaveDelegation(rule("bob", "alice", now.Add(-time.Hour), now.Add(time.Hour), now)))
	r := NewResolver(storage)

	_, err := r.Resolve("alice", now)
	require.Error(t, err)
	require.True(t, api.HasReason(err, api.REASON_DELEGATION_CYCLE))
}

func TestResolveDepthBound(t *testing.T) {
	storage := memory.NewStorage()
	now := time.Now()
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	for i := 0; i < len(users)-1; i++ {
		require.NoError(t, storage.SaveDelegation(rule(users[i], users[i+1], now.Add(-time.Hour), now.Add(time.Hour), now)))
	}
	r := NewResolver(storage)

	_, err := r.Resolve("u0", now)
	require.Error(t, err)
	require.True(t, api.HasReason(err, api.REASON_DELEGATION_CYCLE))
}
