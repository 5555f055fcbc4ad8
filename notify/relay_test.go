package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence/memory"
	"github.com/stretchr/testify/require"
)

func seedEvents(t *testing.T, storage *memory.Storage, workflowId string, n int) {
	wf := &model.WorkflowInstance{Id: workflowId, RequestId: "REQ-1", Status: model.WORKFLOW_PENDING}
	var events []model.WorkflowEvent
	for i := 1; i <= n; i++ {
		events = append(events, model.WorkflowEvent{
			WorkflowId: workflowId,
			Type:       model.EVENT_STEP_ACTIVATED,
			Sequence:   int64(i),
			Timestamp:  time.Now(),
		})
	}
	require.NoError(t, storage.SaveWorkflow(wf, events))
}

func TestDeliverPendingAdvancesCursor(t *testing.T) {
	storage := memory.NewStorage()
	seedEvents(t, storage, "wf-1", 3)

	var mu sync.Mutex
	var received []model.WorkflowEvent
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []model.WorkflowEvent
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	relay := NewRelay(ts.URL, storage, &sync.WaitGroup{})
	relay.deliverPending()

	mu.Lock()
	require.Len(t, received, 3)
	mu.Unlock()

	cursor, err := storage.GetCursor(cursorName)
	require.NoError(t, err)
	require.EqualValues(t, 3, cursor)

	// nothing new: a second pass delivers nothing
	relay.deliverPending()
	mu.Lock()
	require.Len(t, received, 3)
	mu.Unlock()
}

func TestDeliveryFailureKeepsCursor(t *testing.T) {
	storage := memory.NewStorage()
	seedEvents(t, storage, "wf-1", 2)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	relay := NewRelay(ts.URL, storage, &sync.WaitGroup{})
	relay.deliverPending()

	cursor, err := storage.GetCursor(cursorName)
	require.NoError(t, err)
	require.Zero(t, cursor)
}
