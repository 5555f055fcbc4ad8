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

func (s *Server) HandleCreateDelegation(w http.ResponseWriter, r *http.Request) {
	var rule model.DelegationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondWithError(w, api.NewValidationError(api.REASON_BAD_ACTION, "invalid request body"))
		return
	}
	defer r.Body.Close()
	saved, err := s.workflowService.SaveDelegation(rule)
	if err != nil {
		logger.Error("error saving delegation", zap.String("delegator", rule.Delegator), zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, saved)
}

func (s *Server) HandleListDelegations(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rules, err := s.workflowService.ListDelegations(vars["userId"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, rules)
}
