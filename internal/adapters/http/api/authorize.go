package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/types"
)

// AuthorizeDependencies defines the interface for authorization prompts.
type AuthorizeDependencies interface {
	RequestAuthorization(ctx context.Context, write, read []metric.Kind) error
}

// AuthorizeHandler handles authorization requests.
type AuthorizeHandler struct {
	deps AuthorizeDependencies
}

// NewAuthorizeHandler creates a new authorize handler.
func NewAuthorizeHandler(deps AuthorizeDependencies) *AuthorizeHandler {
	return &AuthorizeHandler{deps: deps}
}

// HandlePostAuthorize handles POST /authorize requests. A 200 means the
// prompt ran, not that anything was granted.
func (h *AuthorizeHandler) HandlePostAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req types.AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	write, read, err := req.Kinds()
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.deps.RequestAuthorization(r.Context(), write, read); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "requested"})
}
