package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/logger"
	"github.com/signoff-io/signoff/model"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var createReq model.WorkflowCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&createReq); err != nil {
		respondWithError(w, api.NewValidationError(api.REASON_BAD_ACTION, "invalid request body"))
		return
	}
	defer r.Body.Close()
	wf, err := s.workflowService.CreateWorkflow(r.Context(), createReq.RequestId, createReq.Definition)
	if err != nil {
		logger.Error("error creating workflow", zap.String("request", createReq.RequestId), zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, wf)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	wf, err := s.workflowService.GetWorkflow(vars["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, wf)
}

func (s *Server) HandleListByRequest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workflows, err := s.workflowService.ListByRequest(vars["requestId"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, workflows)
}

func (s *Server) HandleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var cancelReq model.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&cancelReq); err != nil {
		respondWithError(w, api.NewValidationError(api.REASON_BAD_ACTION, "invalid request body"))
		return
	}
	defer r.Body.Close()
	if err := s.workflowService.CancelWorkflow(vars["id"], cancelReq.ActorId, cancelReq.Reason); err != nil {
		logger.Error("error cancelling workflow", zap.String("workflow", vars["id"]), zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondOK(w, map[string]any{"cancelled": vars["id"]})
}

func (s *Server) HandlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")
	if len(actor) == 0 {
		respondWithError(w, api.NewValidationError(api.REASON_BAD_ACTION, "actor query parameter is required"))
		return
	}
	approvals, err := s.workflowService.PendingApprovals(actor)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, approvals)
}

func (s *Server) HandleOverdueApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.workflowService.OverdueApprovals()
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, approvals)
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.workflowService.Stats()
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, stats)
}
