package rest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signoff-io/signoff/audit"
	"github.com/signoff-io/signoff/delegation"
	"github.com/signoff-io/signoff/directory"
	"github.com/signoff-io/signoff/engine"
	"github.com/signoff-io/signoff/event"
	"github.com/signoff-io/signoff/metadata"
	"github.com/signoff-io/signoff/model"
	"github.com/signoff-io/signoff/persistence/memory"
	"github.com/signoff-io/signoff/resolver"
	"github.com/signoff-io/signoff/rule"
	"github.com/signoff-io/signoff/service"
	"github.com/signoff-io/signoff/ticket"
	"github.com/signoff-io/signoff/timer"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *ticket.StaticSource) {
	storage := memory.NewStorage()
	wg := &sync.WaitGroup{}
	dir := directory.NewStaticDirectory([]directory.Entry{
		{UserId: "mia", Role: "manager", Active: true},
	})
	timers := timer.NewService(storage, 60, wg)
	broker := event.NewBroker()
	eng := engine.New(engine.Config{Lanes: 4, LaneCapacity: 64, ActivatorWorkers: 2},
		storage, dir, delegation.NewResolver(storage), timers, broker, audit.NewNoopCollector(), wg)
	eng.Start()
	t.Cleanup(eng.Stop)

	tickets := ticket.NewStaticSource()
	meta := metadata.NewMetadataService(storage)
	svc := service.NewWorkflowService(eng, resolver.NewResolver(dir, rule.NewEvaluator()),
		meta, storage, dir, tickets)
	server, err := NewServer(0, meta, svc, broker)
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts, tickets
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestWorkflowLifecycleOverHttp(t *testing.T) {
	ts, tickets := newTestServer(t)
	tickets.Put("REQ-1", map[string]any{"amount": float64(120)})

	resp := postJSON(t, ts.URL+"/metadata/definition", model.WorkflowDefinition{
		Name: "expense-approval",
		Steps: []model.StepTemplate{
			{Name: "manager-review", Kind: model.STEP_KIND_SEQUENTIAL, ApproverRole: "manager"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/workflow", model.WorkflowCreateRequest{RequestId: "REQ-1", Definition: "expense-approval"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	wf := decode[model.WorkflowInstance](t, resp)
	require.Len(t, wf.Steps, 1)
	require.Equal(t, model.STEP_ACTIVE, wf.Steps[0].Status)

	resp = postJSON(t, fmt.Sprintf("%s/workflow/%s/step/%s/decision", ts.URL, wf.Id, wf.Steps[0].Id),
		model.DecisionRequest{ActorId: "mia", Action: model.ACTION_APPROVE, Comments: "ok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	step := decode[model.Step](t, resp)
	require.Equal(t, model.STEP_APPROVED, step.Status)

	resp, err := http.Get(ts.URL + "/workflow/" + wf.Id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored := decode[model.WorkflowInstance](t, resp)
	require.Equal(t, model.WORKFLOW_APPROVED, stored.Status)

	resp, err = http.Get(ts.URL + "/workflow/" + wf.Id + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]model.WorkflowEvent](t, resp)
	var types []model.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	require.Contains(t, types, model.EVENT_WORKFLOW_CREATED)
	require.Contains(t, types, model.EVENT_STEP_APPROVED)
	require.Contains(t, types, model.EVENT_WORKFLOW_APPROVED)
}

func TestErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/workflow/no-such-id")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.Equal(t, "WorkflowNotFound", body["reason"])

	resp = postJSON(t, ts.URL+"/workflow", model.WorkflowCreateRequest{RequestId: "REQ-1", Definition: "missing"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/metadata/definition", model.WorkflowDefinition{Name: "bad"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

// seedWorkflow registers a one-step manager definition and creates a
// workflow for it, leaving events workflow_created (1), step_activated (2).
func seedWorkflow(t *testing.T, ts *httptest.Server, tickets *ticket.StaticSource, def model.WorkflowDefinition) model.WorkflowInstance {
	tickets.Put("REQ-1", map[string]any{"amount": float64(120)})
	resp := postJSON(t, ts.URL+"/metadata/definition", def)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/workflow", model.WorkflowCreateRequest{RequestId: "REQ-1", Definition: def.Name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[model.WorkflowInstance](t, resp)
}

func managerDefinition() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name: "expense-approval",
		Steps: []model.StepTemplate{
			{Name: "manager-review", Kind: model.STEP_KIND_SEQUENTIAL, ApproverRole: "manager"},
		},
	}
}

func TestListEventsReplayFromSequence(t *testing.T) {
	ts, tickets := newTestServer(t)
	wf := seedWorkflow(t, ts, tickets, managerDefinition())

	resp := postJSON(t, fmt.Sprintf("%s/workflow/%s/step/%s/decision", ts.URL, wf.Id, wf.Steps[0].Id),
		model.DecisionRequest{ActorId: "mia", Action: model.ACTION_APPROVE})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/workflow/" + wf.Id + "/events?from=3")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]model.WorkflowEvent](t, resp)
	require.Len(t, events, 2)
	require.Equal(t, int64(3), events[0].Sequence)
	require.Equal(t, model.EVENT_STEP_APPROVED, events[0].Type)
	require.Equal(t, model.EVENT_WORKFLOW_APPROVED, events[1].Type)
}

type sseFrame struct {
	id    string
	event string
	data  string
}

func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if f.event != "" {
				return f
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, ts *httptest.Server, query string) (*bufio.Reader, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events/stream"+query, nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body), func() {
		cancel()
		resp.Body.Close()
	}
}

func TestEventStreamReplayThenLive(t *testing.T) {
	ts, tickets := newTestServer(t)
	wf := seedWorkflow(t, ts, tickets, managerDefinition())

	reader, closeStream := openStream(t, ts, "?workflow="+wf.Id+"&from=2")
	defer closeStream()

	frame := readFrame(t, reader)
	require.Equal(t, string(model.EVENT_STEP_ACTIVATED), frame.event)
	require.Equal(t, fmt.Sprintf("%s:2", wf.Id), frame.id)

	resp := postJSON(t, fmt.Sprintf("%s/workflow/%s/step/%s/decision", ts.URL, wf.Id, wf.Steps[0].Id),
		model.DecisionRequest{ActorId: "mia", Action: model.ACTION_APPROVE})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	frame = readFrame(t, reader)
	require.Equal(t, string(model.EVENT_STEP_APPROVED), frame.event)
	require.Equal(t, fmt.Sprintf("%s:3", wf.Id), frame.id)
	var ev model.WorkflowEvent
	require.NoError(t, json.Unmarshal([]byte(frame.data), &ev))
	require.Equal(t, "mia", ev.Actor)

	frame = readFrame(t, reader)
	require.Equal(t, string(model.EVENT_WORKFLOW_APPROVED), frame.event)
	require.Equal(t, fmt.Sprintf("%s:4", wf.Id), frame.id)
}

func TestEventStreamFirehoseReplay(t *testing.T) {
	ts, tickets := newTestServer(t)
	wf := seedWorkflow(t, ts, tickets, managerDefinition())

	resp := postJSON(t, fmt.Sprintf("%s/workflow/%s/step/%s/decision", ts.URL, wf.Id, wf.Steps[0].Id),
		model.DecisionRequest{ActorId: "mia", Action: model.ACTION_APPROVE})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// no workflow filter: replay starts at global sequence 3 inclusive
	reader, closeStream := openStream(t, ts, "?from=3")
	defer closeStream()

	frame := readFrame(t, reader)
	require.Equal(t, string(model.EVENT_STEP_APPROVED), frame.event)
	var ev model.WorkflowEvent
	require.NoError(t, json.Unmarshal([]byte(frame.data), &ev))
	require.Equal(t, int64(3), ev.GlobalSeq)

	frame = readFrame(t, reader)
	require.Equal(t, string(model.EVENT_WORKFLOW_APPROVED), frame.event)
}

func TestRequestInfoPauseAndResumeOverHttp(t *testing.T) {
	ts, tickets := newTestServer(t)
	def := managerDefinition()
	def.OnRequestInfo = model.REQUEST_INFO_PAUSE
	wf := seedWorkflow(t, ts, tickets, def)

	resp := postJSON(t, fmt.Sprintf("%s/workflow/%s/step/%s/decision", ts.URL, wf.Id, wf.Steps[0].Id),
		model.DecisionRequest{ActorId: "mia", Action: model.ACTION_REQUEST_INFO, Comments: "need receipts"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	step := decode[model.Step](t, resp)
	require.Greater(t, step.PausedRemaining, time.Duration(0))
	require.True(t, step.Deadline.IsZero())

	resp = postJSON(t, fmt.Sprintf("%s/workflow/%s/step/%s/resume", ts.URL, wf.Id, wf.Steps[0].Id),
		model.ResumeRequest{ActorId: "mia"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	step = decode[model.Step](t, resp)
	require.Equal(t, time.Duration(0), step.PausedRemaining)
	require.False(t, step.Deadline.IsZero())
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
