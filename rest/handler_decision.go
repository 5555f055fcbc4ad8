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

func (s *Server) HandleDecision(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var decisionReq model.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&decisionReq); err != nil {
		respondWithError(w, api.NewValidationError(api.REASON_BAD_ACTION, "invalid request body"))
		return
	}
	defer r.Body.Close()
	step, err := s.workflowService.Decide(r.Context(), vars["id"], vars["stepId"], decisionReq)
	if err != nil {
		logger.Error("error applying decision", zap.String("workflow", vars["id"]),
			zap.String("step", vars["stepId"]), zap.String("actor", decisionReq.ActorId), zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondOK(w, step)
}

func (s *Server) HandleResumeDeadline(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var resumeReq model.ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&resumeReq); err != nil {
		respondWithError(w, api.NewValidationError(api.REASON_BAD_ACTION, "invalid request body"))
		return
	}
	defer r.Body.Close()
	step, err := s.workflowService.ResumeDeadline(vars["id"], vars["stepId"], resumeReq.ActorId)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, step)
}

func (s *Server) HandleBulkDecision(w http.ResponseWriter, r *http.Request) {
	var bulkReq model.BulkDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&bulkReq); err != nil {
		respondWithError(w, api.NewValidationError(api.REASON_BAD_ACTION, "invalid request body"))
		return
	}
	defer r.Body.Close()
	if len(bulkReq.ActorId) == 0 {
		respondWithError(w, api.NewValidationError(api.REASON_BAD_ACTION, "actorId can not be empty"))
		return
	}
	results := s.workflowService.BulkDecide(r.Context(), bulkReq)
	respondOK(w, results)
}
