package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/signoff-io/signoff/logger"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence"
	"github.com/signoff-io/signoff/util"
	"go.uber.org/zap"
)

const cursorName = "notify-relay"

// Relay tails the durable event log and POSTs batches to the
// notification dispatcher's webhook. Delivery is at-least-once: the
// cursor advances only after a successful POST, and the consumer must
// dedup by (workflowId, sequence). A restart resumes from the saved
// cursor.
type Relay struct {
	endpoint  string
	storage   persistence.Storage
	client    *http.Client
	codec     util.EncoderDecoder[[]model.WorkflowEvent]
	batchSize int
	stop      chan struct{}
	tick      *util.TickWorker
}

func NewRelay(endpoint string, storage persistence.Storage, wg *sync.WaitGroup) *Relay {
	r := &Relay{
		endpoint:  endpoint,
		storage:   storage,
		client:    &http.Client{Timeout: 10 * time.Second},
		codec:     util.NewJsonEncoderDecoder[[]model.WorkflowEvent](),
		batchSize: 64,
		stop:      make(chan struct{}),
	}
	r.tick = util.NewTickWorker("notify-relay", 1*time.Second, r.stop, r.deliverPending, wg)
	return r
}

func (r *Relay) Start() {
	r.tick.Start()
}

func (r *Relay) Stop() {
	r.tick.Stop()
}

func (r *Relay) deliverPending() {
	cursor, err := r.storage.GetCursor(cursorName)
	if err != nil {
		logger.Error("error reading relay cursor", zap.Error(err))
		return
	}
	for {
		events, err := r.storage.ListAllEvents(cursor, r.batchSize)
		if err != nil {
			logger.Error("error reading events for relay", zap.Error(err))
			return
		}
		if len(events) == 0 {
			return
		}
		if err := r.post(events); err != nil {
			logger.Error("error delivering events, will retry", zap.Int64("cursor", cursor), zap.Error(err))
			return
		}
		cursor = events[len(events)-1].GlobalSeq
		if err := r.storage.SaveCursor(cursorName, cursor); err != nil {
			logger.Error("error saving relay cursor", zap.Error(err))
			return
		}
	}
}

func (r *Relay) post(events []model.WorkflowEvent) error {
	data, err := r.codec.Encode(events)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}
