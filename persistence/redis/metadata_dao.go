package redis

import (
	"context"
	"errors"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
)

const DEFINITION_KEY = "definition"
const CURSOR_KEY = "cursors"

func (r *Storage) SaveDefinition(def model.WorkflowDefinition) error {
	ctx := context.Background()
	data, err := r.defCodec.Encode(def)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	key := r.getNamespaceKey(DEFINITION_KEY)
	if err := r.redisClient.HSet(ctx, key, []string{def.Name, string(data)}).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *Storage) GetDefinition(name string) (*model.WorkflowDefinition, error) {
	ctx := context.Background()
	defStr, err := r.redisClient.HGet(ctx, r.getNamespaceKey(DEFINITION_KEY), name).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NewValidationError(api.REASON_DEFINITION_NOT_FOUND, "definition %s not found", name)
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.defCodec.Decode([]byte(defStr))
}

func (r *Storage) DeleteDefinition(name string) error {
	ctx := context.Background()
	if err := r.redisClient.HDel(ctx, r.getNamespaceKey(DEFINITION_KEY), name).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *Storage) GetCursor(name string) (int64, error) {
	ctx := context.Background()
	val, err := r.redisClient.HGet(ctx, r.getNamespaceKey(CURSOR_KEY), name).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return 0, nil
		}
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return strconv.ParseInt(val, 10, 64)
}

func (r *Storage) SaveCursor(name string, value int64) error {
	ctx := context.Background()
	key := r.getNamespaceKey(CURSOR_KEY)
	if err := r.redisClient.HSet(ctx, key, []string{name, strconv.FormatInt(value, 10)}).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
