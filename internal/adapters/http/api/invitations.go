package api

import (
	"context"
	"net/http"

	"github.com/okian/huntline/internal/domain/types"
)

// InvitationDependencies defines the invitation operations the handlers call.
type InvitationDependencies interface {
	Landing(ctx context.Context, ref string) (types.Landing, error)
	Join(ctx context.Context, ref, name string) (types.Joined, error)
}

// InvitationsHandler serves the landing and join flow behind an invitation link.
type InvitationsHandler struct {
	deps InvitationDependencies
}

// NewInvitationsHandler creates a new invitations handler.
func NewInvitationsHandler(deps InvitationDependencies) *InvitationsHandler {
	return &InvitationsHandler{deps: deps}
}

type joinRequest struct {
	Name string `json:"name"`
}

// HandleLanding handles GET /invitations/{ref} requests.
func (h *InvitationsHandler) HandleLanding(w http.ResponseWriter, r *http.Request) {
	landing, err := h.deps.Landing(r.Context(), r.PathValue("ref"))
	if err != nil {
		writeFailure(w, "api.landing", err)
		return
	}
	writeJSON(w, http.StatusOK, landing)
}

// HandleJoin handles POST /invitations/{ref}/join requests.
func (h *InvitationsHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	const op = "api.join"
	var req joinRequest
	if err := decode(r, op, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	joined, err := h.deps.Join(r.Context(), r.PathValue("ref"), req.Name)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, joined)
}
