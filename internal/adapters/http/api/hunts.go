package api

import (
	"context"
	"net/http"

	"github.com/okian/huntline/internal/domain/types"
)

// HuntDependencies defines the hunt operations the handlers call.
type HuntDependencies interface {
	CreateHunt(ctx context.Context, name string, laneCount int) (types.HuntCreated, error)
	GetHunt(ctx context.Context, id string) (types.Hunt, error)
	ListLanes(ctx context.Context, huntID string) ([]types.Lane, error)
	StartHunt(ctx context.Context, id string) (types.Hunt, error)
}

// HuntsHandler handles organizer requests on hunts.
type HuntsHandler struct {
	deps HuntDependencies
}

// NewHuntsHandler creates a new hunts handler.
func NewHuntsHandler(deps HuntDependencies) *HuntsHandler {
	return &HuntsHandler{deps: deps}
}

type createHuntRequest struct {
	Name      string `json:"name"`
	LaneCount int    `json:"lane_count"`
}

// HandleCreate handles POST /hunts requests.
func (h *HuntsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_hunt"
	var req createHuntRequest
	if err := decode(r, op, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	created, err := h.deps.CreateHunt(r.Context(), req.Name, req.LaneCount)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleGet handles GET /hunts/{id} requests.
func (h *HuntsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	hunt, err := h.deps.GetHunt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, "api.get_hunt", err)
		return
	}
	writeJSON(w, http.StatusOK, hunt)
}

// HandleListLanes handles GET /hunts/{id}/lanes requests.
func (h *HuntsHandler) HandleListLanes(w http.ResponseWriter, r *http.Request) {
	lanes, err := h.deps.ListLanes(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, "api.list_lanes", err)
		return
	}
	writeJSON(w, http.StatusOK, lanes)
}

// HandleStart handles POST /hunts/{id}/start requests.
func (h *HuntsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	hunt, err := h.deps.StartHunt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, "api.start_hunt", err)
		return
	}
	writeJSON(w, http.StatusOK, hunt)
}
