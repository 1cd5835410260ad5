// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/huntline/internal/adapters/blob"
	service "github.com/okian/huntline/internal/app"
	"github.com/okian/huntline/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	HuntDependencies
	LaneDependencies
	InvitationDependencies
	ImageDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	huntsHandler      *HuntsHandler
	lanesHandler      *LanesHandler
	invitationHandler *InvitationsHandler
	imagesHandler     *ImagesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		huntsHandler:      NewHuntsHandler(deps),
		lanesHandler:      NewLanesHandler(deps),
		invitationHandler: NewInvitationsHandler(deps),
		imagesHandler:     NewImagesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /hunts", MetricsMiddleware(s.huntsHandler.HandleCreate, "hunts_create"))
	mux.HandleFunc("GET /hunts/{id}", MetricsMiddleware(s.huntsHandler.HandleGet, "hunts_get"))
	mux.HandleFunc("GET /hunts/{id}/lanes", MetricsMiddleware(s.huntsHandler.HandleListLanes, "hunts_lanes"))
	mux.HandleFunc("POST /hunts/{id}/start", MetricsMiddleware(s.huntsHandler.HandleStart, "hunts_start"))

	mux.HandleFunc("GET /lanes/{id}", MetricsMiddleware(s.lanesHandler.HandleGet, "lanes_get"))
	mux.HandleFunc("POST /lanes/{id}/checkpoints", MetricsMiddleware(s.lanesHandler.HandleAddCheckpoint, "checkpoints_add"))
	mux.HandleFunc("POST /lanes/{id}/checkpoints/reorder", MetricsMiddleware(s.lanesHandler.HandleReorder, "checkpoints_reorder"))
	mux.HandleFunc("DELETE /lanes/{id}/checkpoints/{index}", MetricsMiddleware(s.lanesHandler.HandleRemoveCheckpoint, "checkpoints_remove"))
	mux.HandleFunc("PUT /lanes/{id}/checkpoints/{index}/label", MetricsMiddleware(s.lanesHandler.HandleRelabel, "checkpoints_label"))
	mux.HandleFunc("POST /lanes/{id}/scans", MetricsMiddleware(s.lanesHandler.HandleScan, "scans"))
	mux.HandleFunc("POST /lanes/{id}/participants/{index}/ready", MetricsMiddleware(s.lanesHandler.HandleReady, "participants_ready"))

	mux.HandleFunc("GET /invitations/{ref}", MetricsMiddleware(s.invitationHandler.HandleLanding, "invitations_get"))
	mux.HandleFunc("POST /invitations/{ref}/join", MetricsMiddleware(s.invitationHandler.HandleJoin, "invitations_join"))

	mux.HandleFunc("POST /images", MetricsMiddleware(s.imagesHandler.HandleUpload, "images_upload"))
	mux.HandleFunc("GET /images/{ref}", MetricsMiddleware(s.imagesHandler.HandleGet, "images_get"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps an upstream error onto a status and error code.
func writeFailure(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	writeError(w, status, code, NewKind(op, err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, blob.ErrEmpty), errors.Is(err, blob.ErrTooLarge):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrHuntNotStarted):
		return http.StatusConflict, "hunt_not_started"
	case errors.Is(err, model.ErrAlreadyComplete):
		return http.StatusConflict, "already_complete"
	case errors.Is(err, model.ErrInvalidOperation):
		return http.StatusConflict, "invalid_operation"
	case errors.Is(err, model.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decode reads a JSON request body into v.
func decode(r *http.Request, op string, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

// pathIndex parses a non-negative integer path value.
func pathIndex(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil || v < 0 {
		return 0, NewKind("parse "+name, ErrBadRequest)
	}
	return v, nil
}

const maxJSONBody = 1 << 20
