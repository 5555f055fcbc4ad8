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

func (s *Server) HandleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var def model.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithError(w, api.NewValidationError(api.REASON_DEFINITION_INVALID, "invalid request body"))
		return
	}
	defer r.Body.Close()
	if err := s.metadataService.SaveDefinition(def); err != nil {
		logger.Error("error saving definition", zap.String("name", def.Name), zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]any{"name": def.Name})
}

func (s *Server) HandleGetDefinition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	def, err := s.metadataService.GetDefinition(vars["name"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, def)
}

func (s *Server) HandleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.metadataService.DeleteDefinition(vars["name"]); err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, map[string]any{"deleted": vars["name"]})
}
