package redis

import (
	"context"
	"errors"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
	"github.com/signoff-io/signoff/util"
)

const WORKFLOW_KEY = "workflow"
const OPEN_SET_KEY = "open"
const REQUEST_KEY = "request"
const EVENTS_KEY = "events"
const ALL_EVENTS_KEY = "events:all"
const GLOBAL_SEQ_KEY = "eventseq"

var _ persistence.Storage = new(Storage)

// Storage implements persistence.Storage on redis. Workflow state and
// its new events are written through one TxPipelined call so a
// transition and its event records land atomically.
type Storage struct {
	*baseDao
	wfCodec  util.EncoderDecoder[model.WorkflowInstance]
	evCodec  util.EncoderDecoder[model.WorkflowEvent]
	delCodec util.EncoderDecoder[model.DelegationRule]
	defCodec util.EncoderDecoder[model.WorkflowDefinition]
}

func NewStorage(conf Config) *Storage {
	return &Storage{
		baseDao:  newBaseDao(conf),
		wfCodec:  util.NewJsonEncoderDecoder[model.WorkflowInstance](),
		evCodec:  util.NewJsonEncoderDecoder[model.WorkflowEvent](),
		delCodec: util.NewJsonEncoderDecoder[model.DelegationRule](),
		defCodec: util.NewJsonEncoderDecoder[model.WorkflowDefinition](),
	}
}

func (r *Storage) SaveWorkflow(wf *model.WorkflowInstance, events []model.WorkflowEvent) error {
	ctx := context.Background()
	key := r.getNamespaceKey(WORKFLOW_KEY)
	openKey := r.getNamespaceKey(OPEN_SET_KEY)
	requestKey := r.getNamespaceKey(REQUEST_KEY, wf.RequestId)
	eventsKey := r.getNamespaceKey(EVENTS_KEY, wf.Id)
	allEventsKey := r.getNamespaceKey(ALL_EVENTS_KEY)

	// Reserve the global sequence range up front; the assignment itself
	// cannot happen inside the pipeline because the INCRBY result is
	// needed to build the event payloads.
	var seqBase int64
	if len(events) > 0 {
		var err error
		seqBase, err = r.redisClient.IncrBy(ctx, r.getNamespaceKey(GLOBAL_SEQ_KEY), int64(len(events))).Result()
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		seqBase -= int64(len(events))
	}
	data, err := r.wfCodec.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	var perWf []rd.Z
	var global []rd.Z
	for i := range events {
		events[i].GlobalSeq = seqBase + int64(i) + 1
		evData, err := r.evCodec.Encode(events[i])
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		perWf = append(perWf, rd.Z{Score: float64(events[i].Sequence), Member: string(evData)})
		global = append(global, rd.Z{Score: float64(events[i].GlobalSeq), Member: string(evData)})
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		err := pipe.HSet(ctx, key, []string{wf.Id, string(data)}).Err()
		if err != nil {
			return err
		}
		if len(perWf) != 0 {
			if err := pipe.ZAdd(ctx, eventsKey, perWf...).Err(); err != nil {
				return err
			}
			if err := pipe.ZAdd(ctx, allEventsKey, global...).Err(); err != nil {
				return err
			}
		}
		if err := pipe.SAdd(ctx, requestKey, wf.Id).Err(); err != nil {
			return err
		}
		if wf.Status.IsTerminal() {
			return pipe.SRem(ctx, openKey, wf.Id).Err()
		}
		return pipe.SAdd(ctx, openKey, wf.Id).Err()
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *Storage) GetWorkflow(id string) (*model.WorkflowInstance, error) {
	ctx := context.Background()
	wfStr, err := r.redisClient.HGet(ctx, r.getNamespaceKey(WORKFLOW_KEY), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NewValidationError(api.REASON_WORKFLOW_NOT_FOUND, "workflow %s not found", id)
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.wfCodec.Decode([]byte(wfStr))
}

func (r *Storage) getWorkflows(ids []string) ([]*model.WorkflowInstance, error) {
	var out []*model.WorkflowInstance
	for _, id := range ids {
		wf, err := r.GetWorkflow(id)
		if err != nil {
			if api.HasReason(err, api.REASON_WORKFLOW_NOT_FOUND) {
				continue
			}
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func (r *Storage) ListByRequest(requestId string) ([]*model.WorkflowInstance, error) {
	ctx := context.Background()
	ids, err := r.redisClient.SMembers(ctx, r.getNamespaceKey(REQUEST_KEY, requestId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.getWorkflows(ids)
}

func (r *Storage) ListOpenWorkflows() ([]*model.WorkflowInstance, error) {
	ctx := context.Background()
	ids, err := r.redisClient.SMembers(ctx, r.getNamespaceKey(OPEN_SET_KEY)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.getWorkflows(ids)
}

func (r *Storage) ListWorkflows() ([]*model.WorkflowInstance, error) {
	ctx := context.Background()
	all, err := r.redisClient.HGetAll(ctx, r.getNamespaceKey(WORKFLOW_KEY)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out []*model.WorkflowInstance
	for _, wfStr := range all {
		wf, err := r.wfCodec.Decode([]byte(wfStr))
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func (r *Storage) listEvents(key string, fromScore int64, limit int) ([]model.WorkflowEvent, error) {
	ctx := context.Background()
	rangeBy := &rd.ZRangeBy{
		Min: strconv.FormatInt(fromScore, 10),
		Max: "+inf",
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}
	values, err := r.redisClient.ZRangeByScore(ctx, key, rangeBy).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out []model.WorkflowEvent
	for _, v := range values {
		ev, err := r.evCodec.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, nil
}

func (r *Storage) ListEvents(workflowId string, fromSeq int64) ([]model.WorkflowEvent, error) {
	return r.listEvents(r.getNamespaceKey(EVENTS_KEY, workflowId), fromSeq, 0)
}

func (r *Storage) ListAllEvents(fromGlobalSeq int64, limit int) ([]model.WorkflowEvent, error) {
	return r.listEvents(r.getNamespaceKey(ALL_EVENTS_KEY), fromGlobalSeq+1, limit)
}
