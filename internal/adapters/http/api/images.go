package api

import (
	"context"
	"io"
	"net/http"
)

// ImageDependencies defines the image store operations the handlers call.
type ImageDependencies interface {
	PutImage(ctx context.Context, r io.Reader) (string, error)
	OpenImage(ctx context.Context, ref string) (io.ReadCloser, error)
}

// ImagesHandler handles checkpoint image uploads and downloads.
type ImagesHandler struct {
	deps ImageDependencies
}

// NewImagesHandler creates a new images handler.
func NewImagesHandler(deps ImageDependencies) *ImagesHandler {
	return &ImagesHandler{deps: deps}
}

type imageResponse struct {
	ImageRef string `json:"image_ref"`
}

// HandleUpload handles POST /images requests with the raw image as body.
func (h *ImagesHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ref, err := h.deps.PutImage(r.Context(), r.Body)
	if err != nil {
		writeFailure(w, "api.put_image", err)
		return
	}
	writeJSON(w, http.StatusCreated, imageResponse{ImageRef: ref})
}

// HandleGet handles GET /images/{ref} requests.
func (h *ImagesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rc, err := h.deps.OpenImage(r.Context(), r.PathValue("ref"))
	if err != nil {
		writeFailure(w, "api.get_image", err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
