package api

import (
	"context"
	"net/http"

	"github.com/okian/huntline/internal/domain/types"
)

// LaneDependencies defines the lane operations the handlers call.
type LaneDependencies interface {
	GetLane(ctx context.Context, id string) (types.Lane, error)
	AddCheckpoint(ctx context.Context, laneID, imageRef, label string, insertAfter *int) (types.Lane, error)
	RemoveCheckpoint(ctx context.Context, laneID string, index int) (types.Lane, error)
	ReorderCheckpoint(ctx context.Context, laneID string, from, to int) (types.Lane, error)
	RelabelCheckpoint(ctx context.Context, laneID string, index int, label string) (types.Lane, error)
	SubmitScan(ctx context.Context, laneID, token string) (types.ScanResult, error)
	MarkReady(ctx context.Context, laneID string, index int) (types.Lane, error)
}

// LanesHandler handles lane, checkpoint and scan requests.
type LanesHandler struct {
	deps LaneDependencies
}

// NewLanesHandler creates a new lanes handler.
func NewLanesHandler(deps LaneDependencies) *LanesHandler {
	return &LanesHandler{deps: deps}
}

type addCheckpointRequest struct {
	ImageRef    string `json:"image_ref"`
	Label       string `json:"label"`
	InsertAfter *int   `json:"insert_after,omitempty"`
}

type reorderRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

type labelRequest struct {
	Label string `json:"label"`
}

type scanRequest struct {
	Token string `json:"token"`
}

// HandleGet handles GET /lanes/{id} requests.
func (h *LanesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	lane, err := h.deps.GetLane(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, "api.get_lane", err)
		return
	}
	writeJSON(w, http.StatusOK, lane)
}

// HandleAddCheckpoint handles POST /lanes/{id}/checkpoints requests.
func (h *LanesHandler) HandleAddCheckpoint(w http.ResponseWriter, r *http.Request) {
	const op = "api.add_checkpoint"
	var req addCheckpointRequest
	if err := decode(r, op, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	lane, err := h.deps.AddCheckpoint(r.Context(), r.PathValue("id"), req.ImageRef, req.Label, req.InsertAfter)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, lane)
}

// HandleRemoveCheckpoint handles DELETE /lanes/{id}/checkpoints/{index} requests.
func (h *LanesHandler) HandleRemoveCheckpoint(w http.ResponseWriter, r *http.Request) {
	const op = "api.remove_checkpoint"
	index, err := pathIndex(r, "index")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	lane, err := h.deps.RemoveCheckpoint(r.Context(), r.PathValue("id"), index)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, lane)
}

// HandleReorder handles POST /lanes/{id}/checkpoints/reorder requests.
func (h *LanesHandler) HandleReorder(w http.ResponseWriter, r *http.Request) {
	const op = "api.reorder_checkpoint"
	var req reorderRequest
	if err := decode(r, op, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	if req.From == nil || req.To == nil {
		writeFailure(w, op, NewKind("missing from or to", ErrBadRequest))
		return
	}
	lane, err := h.deps.ReorderCheckpoint(r.Context(), r.PathValue("id"), *req.From, *req.To)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, lane)
}

// HandleRelabel handles PUT /lanes/{id}/checkpoints/{index}/label requests.
func (h *LanesHandler) HandleRelabel(w http.ResponseWriter, r *http.Request) {
	const op = "api.relabel_checkpoint"
	index, err := pathIndex(r, "index")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	var req labelRequest
	if err := decode(r, op, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	lane, err := h.deps.RelabelCheckpoint(r.Context(), r.PathValue("id"), index, req.Label)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, lane)
}

// HandleScan handles POST /lanes/{id}/scans requests. A wrong token is not
// an error: it answers 200 with accepted=false.
func (h *LanesHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_scan"
	var req scanRequest
	if err := decode(r, op, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	res, err := h.deps.SubmitScan(r.Context(), r.PathValue("id"), req.Token)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleReady handles POST /lanes/{id}/participants/{index}/ready requests.
func (h *LanesHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	const op = "api.mark_ready"
	index, err := pathIndex(r, "index")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	lane, err := h.deps.MarkReady(r.Context(), r.PathValue("id"), index)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, lane)
}
