package event

import (
	"sync"

	"github.com/google/uuid"
	"github.com/signoff-io/signoff/logger"
	"github.com/signoff-io/signoff/model"
	"go.uber.org/zap"
)

// Broker fans events out to in-process subscribers. Delivery is
// best-effort per subscriber: a full buffer drops the event and the
// subscriber is expected to replay from the store by sequence number.
// The durable log written by the engine's storage call is the source of
// truth; the broker only shortens the path for live consumers.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

type subscription struct {
	id         string
	workflowId string // empty = firehose
	ch         chan model.WorkflowEvent
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]*subscription),
	}
}

// Subscribe registers a listener. workflowId narrows the feed to one
// workflow; empty subscribes to everything. The returned cancel func
// must be called when the consumer goes away.
func (b *Broker) Subscribe(workflowId string, buffer int) (<-chan model.WorkflowEvent, func()) {
	sub := &subscription{
		id:         uuid.NewString(),
		workflowId: workflowId,
		ch:         make(chan model.WorkflowEvent, buffer),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

func (b *Broker) Publish(events []model.WorkflowEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ev := range events {
		for _, sub := range b.subs {
			if sub.workflowId != "" && sub.workflowId != ev.WorkflowId {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				logger.Warn("dropping event for slow subscriber",
					zap.String("workflow", ev.WorkflowId), zap.Int64("seq", ev.Sequence))
			}
		}
	}
}
