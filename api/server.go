// Package api exposes the Parameters Manager and Dependency Graph over
// HTTP as a thin JSON facade; it holds no business logic of its own.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/brightway-tools/paramengine/domain/parameters"
	"github.com/brightway-tools/paramengine/infrastructure/errors"
	"github.com/brightway-tools/paramengine/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the domain Manager/Graph into a mux.Router.
type Server struct {
	mgr   *parameters.Manager
	graph *parameters.Graph
	log   *logger.Logger
}

// NewServer builds a Server backed by mgr and graph.
func NewServer(mgr *parameters.Manager, graph *parameters.Graph, log *logger.Logger) *Server {
	return &Server{mgr: mgr, graph: graph, log: log}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/v1/recalculate", s.handleRecalculate).Methods(http.MethodPost)

	r.HandleFunc("/v1/project-parameters", s.handleNewProjectParameters).Methods(http.MethodPost)

	r.HandleFunc("/v1/databases/{database}/parameters", s.handleNewDatabaseParameters).Methods(http.MethodPost)

	r.HandleFunc("/v1/groups/{group}/parameters", s.handleNewActivityParameters).Methods(http.MethodPost)
	r.HandleFunc("/v1/groups/{group}/dependencies", s.handleAddDependency).Methods(http.MethodPost)

	return r
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Recalculate(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type newProjectParametersRequest struct {
	Parameters []parameters.ProjectParameter `json:"parameters"`
}

func (s *Server) handleNewProjectParameters(w http.ResponseWriter, r *http.Request) {
	var req newProjectParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ValueErr("malformed request body"))
		return
	}
	if err := s.mgr.NewProjectParameters(r.Context(), req.Parameters); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type newDatabaseParametersRequest struct {
	Parameters []parameters.DatabaseParameter `json:"parameters"`
}

func (s *Server) handleNewDatabaseParameters(w http.ResponseWriter, r *http.Request) {
	database := mux.Vars(r)["database"]
	var req newDatabaseParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ValueErr("malformed request body"))
		return
	}
	if err := s.mgr.NewDatabaseParameters(r.Context(), req.Parameters, database); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type newActivityParametersRequest struct {
	Parameters []parameters.ActivityParameter `json:"parameters"`
}

func (s *Server) handleNewActivityParameters(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]
	var req newActivityParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ValueErr("malformed request body"))
		return
	}
	if err := s.mgr.NewActivityParameters(r.Context(), req.Parameters, group); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addDependencyRequest struct {
	Depends string `json:"depends"`
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]
	var req addDependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ValueErr("malformed request body"))
		return
	}
	// databases is nil here: HTTP callers add edges to "project" or to
	// existing groups only, never to a database whose registration this
	// package has no view of.
	if err := s.graph.Add(r.Context(), group, req.Depends, nil); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	status := errors.GetHTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
