package api

import (
	"fmt"
	"net/http"
)

// EngineStats reports the engine's runtime figures: uptime, sessions by
// state, observed keys, limits.
type EngineStats interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves GET /stats.
type StatsHandler struct {
	engine EngineStats
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(engine EngineStats) *StatsHandler {
	return &StatsHandler{engine: engine}
}

// HandleStats writes every figure, or only ?field=name when given.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	stats := h.engine.GetStats()
	field := r.URL.Query().Get("field")
	if field == "" {
		writeJSON(w, http.StatusOK, stats)
		return
	}
	v, ok := stats[field]
	if !ok {
		writeFailure(w, fmt.Errorf("%w: stats field %q", ErrNotFound, field))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{field: v})
}
