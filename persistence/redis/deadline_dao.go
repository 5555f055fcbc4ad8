package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/signoff-io/signoff/persistence"
)

const DEADLINE_KEY = "deadlines"
const DEADLINE_GEN_KEY = "deadlines:gen"

// Deadlines live in a ZSET scored by fire time; the timer generation
// rides in a companion hash keyed by workflow|step.

func deadlineMember(workflowId string, stepId string) string {
	return workflowId + "|" + stepId
}

func (r *Storage) AddDeadline(entry persistence.DeadlineEntry) error {
	ctx := context.Background()
	member := deadlineMember(entry.WorkflowId, entry.StepId)
	_, err := r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		err := pipe.ZAdd(ctx, r.getNamespaceKey(DEADLINE_KEY), rd.Z{
			Score:  float64(entry.FireAt.UnixMilli()),
			Member: member,
		}).Err()
		if err != nil {
			return err
		}
		return pipe.HSet(ctx, r.getNamespaceKey(DEADLINE_GEN_KEY), member, strconv.Itoa(entry.Generation)).Err()
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *Storage) RemoveDeadline(workflowId string, stepId string) error {
	ctx := context.Background()
	member := deadlineMember(workflowId, stepId)
	_, err := r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		if err := pipe.ZRem(ctx, r.getNamespaceKey(DEADLINE_KEY), member).Err(); err != nil {
			return err
		}
		return pipe.HDel(ctx, r.getNamespaceKey(DEADLINE_GEN_KEY), member).Err()
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *Storage) DueDeadlines(now time.Time, batch int) ([]persistence.DeadlineEntry, error) {
	ctx := context.Background()
	rangeBy := &rd.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if batch > 0 {
		rangeBy.Count = int64(batch)
	}
	values, err := r.redisClient.ZRangeByScoreWithScores(ctx, r.getNamespaceKey(DEADLINE_KEY), rangeBy).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out []persistence.DeadlineEntry
	for _, z := range values {
		member := z.Member.(string)
		parts := strings.SplitN(member, "|", 2)
		if len(parts) != 2 {
			continue
		}
		genStr, err := r.redisClient.HGet(ctx, r.getNamespaceKey(DEADLINE_GEN_KEY), member).Result()
		if err != nil {
			continue
		}
		gen, _ := strconv.Atoi(genStr)
		out = append(out, persistence.DeadlineEntry{
			WorkflowId: parts[0],
			StepId:     parts[1],
			Generation: gen,
			FireAt:     time.UnixMilli(int64(z.Score)),
		})
	}
	return out, nil
}
