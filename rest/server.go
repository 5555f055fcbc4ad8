package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	api "github.com/signoff-io/signoff/api/v1"
	"github.com/signoff-io/signoff/event"
	"github.com/signoff-io/signoff/logger"
	"github.com/signoff-io/signoff/metadata"
	"github.com/signoff-io/signoff/service"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port            int
	metadataService metadata.MetadataService
	workflowService *service.WorkflowService
	broker          *event.Broker
}

func NewServer(httpPort int, metadataService metadata.MetadataService, workflowService *service.WorkflowService, broker *event.Broker) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		metadataService: metadataService,
		workflowService: workflowService,
		broker:          broker,
		Port:            httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/metadata/definition", s.HandleCreateDefinition).Methods(http.MethodPost)
	router.HandleFunc("/metadata/definition/{name}", s.HandleGetDefinition).Methods(http.MethodGet)
	router.HandleFunc("/metadata/definition/{name}", s.HandleDeleteDefinition).Methods(http.MethodDelete)

	router.HandleFunc("/workflow", s.HandleCreateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflow/{id}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflow/{id}/cancel", s.HandleCancelWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflow/{id}/step/{stepId}/decision", s.HandleDecision).Methods(http.MethodPost)
	router.HandleFunc("/workflow/{id}/step/{stepId}/resume", s.HandleResumeDeadline).Methods(http.MethodPost)
	router.HandleFunc("/workflow/{id}/events", s.HandleListEvents).Methods(http.MethodGet)
	router.HandleFunc("/request/{requestId}/workflow", s.HandleListByRequest).Methods(http.MethodGet)

	router.HandleFunc("/decision/bulk", s.HandleBulkDecision).Methods(http.MethodPost)
	router.HandleFunc("/approvals/pending", s.HandlePendingApprovals).Methods(http.MethodGet)
	router.HandleFunc("/approvals/overdue", s.HandleOverdueApprovals).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.HandleStats).Methods(http.MethodGet)

	router.HandleFunc("/delegation", s.HandleCreateDelegation).Methods(http.MethodPost)
	router.HandleFunc("/delegation/{userId}", s.HandleListDelegations).Methods(http.MethodGet)

	router.HandleFunc("/events/stream", s.HandleEventStream).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message any) {
	respondWithJSON(w, http.StatusOK, message)
}

func respondWithError(w http.ResponseWriter, err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		respondWithJSON(w, apiErr.HTTPStatus(), apiErr)
		return
	}
	respondWithJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
