package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/model"
)

func parseSeq(r *http.Request, name string) int64 {
	raw := r.URL.Query().Get(name)
	if len(raw) == 0 {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (s *Server) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	events, err := s.workflowService.ListEvents(vars["id"], parseSeq(r, "from"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, events)
}

// HandleEventStream serves a live SSE feed, optionally narrowed to one
// workflow with ?workflow= and replayed from ?from= first. Each frame's
// id field carries "workflowId:sequence", the consumer's dedup key for
// at-least-once delivery.
func (s *Server) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, api.NewInternalError(api.REASON_STORAGE, "streaming unsupported"))
		return
	}
	workflowId := r.URL.Query().Get("workflow")
	fromSeq := parseSeq(r, "from")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// subscribe before replaying so nothing published in between is
	// lost; duplicates across the boundary are the consumer's problem
	// by sequence number
	ch, cancel := s.broker.Subscribe(workflowId, 64)
	defer cancel()

	var replay []model.WorkflowEvent
	var err error
	if len(workflowId) > 0 {
		replay, err = s.workflowService.ListEvents(workflowId, fromSeq)
	} else if fromSeq > 0 {
		replay, err = s.workflowService.ListAllEvents(fromSeq-1, 0)
	}
	if err != nil {
		respondWithError(w, err)
		return
	}
	for _, ev := range replay {
		writeEventFrame(w, ev)
	}
	flusher.Flush()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			writeEventFrame(w, ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEventFrame(w http.ResponseWriter, ev model.WorkflowEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %s:%d\nevent: %s\ndata: %s\n\n", ev.WorkflowId, ev.Sequence, ev.Type, data)
}
