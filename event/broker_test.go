package event

import (
	"testing"
	"time"

	"github.com/signoff-io/signoff/model"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanout(t *testing.T) {
	b := NewBroker()
	all, cancelAll := b.Subscribe("", 8)
	defer cancelAll()
	one, cancelOne := b.Subscribe("wf-1", 8)
	defer cancelOne()

	b.Publish([]model.WorkflowEvent{
		{WorkflowId: "wf-1", Type: model.EVENT_WORKFLOW_CREATED, Sequence: 1},
		{WorkflowId: "wf-2", Type: model.EVENT_WORKFLOW_CREATED, Sequence: 1},
	})

	require.Equal(t, "wf-1", (<-all).WorkflowId)
	require.Equal(t, "wf-2", (<-all).WorkflowId)

	ev := <-one
	require.Equal(t, "wf-1", ev.WorkflowId)
	select {
	case extra := <-one:
		t.Fatalf("unexpected event for subscriber of wf-1: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("", 1)
	defer cancel()

	b.Publish([]model.WorkflowEvent{
		{WorkflowId: "wf-1", Sequence: 1},
		{WorkflowId: "wf-1", Sequence: 2},
	})
	// second event is dropped, consumer replays from the store
	require.Equal(t, int64(1), (<-ch).Sequence)
	select {
	case ev := <-ch:
		t.Fatalf("expected drop, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerCancelIsIdempotent(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe("", 1)
	cancel()
	cancel()
	b.Publish([]model.WorkflowEvent{{WorkflowId: "wf-1", Sequence: 1}})
}
