package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/types"
)

const maxSamplesBody = 1 << 20

// SamplesDependencies defines the interface for sample ingestion.
type SamplesDependencies interface {
	Ingest(ctx context.Context, samples ...model.Sample) error
}

// SamplesHandler handles sample ingestion.
type SamplesHandler struct {
	deps SamplesDependencies
}

// NewSamplesHandler creates a new samples handler.
func NewSamplesHandler(deps SamplesDependencies) *SamplesHandler {
	return &SamplesHandler{deps: deps}
}

type samplesResponse struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
}

// HandlePostSamples handles POST /samples requests.
func (h *SamplesHandler) HandlePostSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req types.SamplesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSamplesBody)).Decode(&req); err != nil {
		writeFailure(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	samples, err := req.Samples()
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.deps.Ingest(r.Context(), samples...); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, samplesResponse{Status: "accepted", Accepted: len(samples)})
}
