package redis

import (
	"context"

	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
)

const DELEGATION_KEY = "delegation"

func (r *Storage) SaveDelegation(rule model.DelegationRule) error {
	ctx := context.Background()
	data, err := r.delCodec.Encode(rule)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	key := r.getNamespaceKey(DELEGATION_KEY, rule.Delegator)
	if err := r.redisClient.RPush(ctx, key, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *Storage) ListDelegations(userId string) ([]model.DelegationRule, error) {
	ctx := context.Background()
	key := r.getNamespaceKey(DELEGATION_KEY, userId)
	values, err := r.redisClient.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out []model.DelegationRule
	for _, v := range values {
		rule, err := r.delCodec.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, nil
}
