package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/observe"
	"github.com/okian/vitals/internal/domain/types"
	"github.com/okian/vitals/pkg/logger"
)

// ObservationsDependencies defines the interface for session management.
type ObservationsDependencies interface {
	OpenObservation(ctx context.Context, kinds []metric.Kind, cb observe.Callback, opts ...observe.StartOption) (*observe.Session, bool, error)
	StopObserving(ctx context.Context, id string, opts ...observe.StopOption) error
	RestartObserving(ctx context.Context, id string) error
	Session(id string) (*observe.Session, bool)
	Sessions() []*observe.Session
}

// ObservationsHandler handles observation session requests. Sessions
// started over HTTP keep their latest record on the session itself, where
// GET /observations/{id} reads it.
type ObservationsHandler struct {
	deps   ObservationsDependencies
	logger logger.Logger
}

// NewObservationsHandler creates a new observations handler.
func NewObservationsHandler(deps ObservationsDependencies, l logger.Logger) *ObservationsHandler {
	return &ObservationsHandler{deps: deps, logger: l}
}

// HandleCollection handles GET and POST /observations.
func (h *ObservationsHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions := h.deps.Sessions()
		out := make([]types.Session, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, types.NewSession(s.Info()))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		h.start(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *ObservationsHandler) start(w http.ResponseWriter, r *http.Request) {
	var req types.ObserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	kinds, err := metric.ParseKinds(req.Kinds)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var opts []observe.StartOption
	if req.Strategy != "" {
		strategy, err := observe.ParseStrategy(req.Strategy)
		if err != nil {
			writeFailure(w, err)
			return
		}
		opts = append(opts, observe.WithStrategy(strategy))
	}

	s, created, err := h.deps.OpenObservation(r.Context(), kinds, h.delivered, opts...)
	if err != nil {
		writeFailure(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, types.NewSession(s.Info()))
}

func (h *ObservationsHandler) delivered(ctx context.Context, res observe.Result) error {
	if res.Err != nil {
		h.logger.Warn(ctx, "observation failed",
			logger.String("session", res.SessionID),
			logger.String("key", res.Key.String()),
			logger.Error(res.Err))
		return nil
	}
	h.logger.Debug(ctx, "observation delivered",
		logger.String("session", res.SessionID),
		logger.String("key", res.Key.String()))
	return nil
}

// HandleItem handles GET and DELETE /observations/{id} and
// POST /observations/{id}/restart.
func (h *ObservationsHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/observations/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" || strings.Contains(action, "/") {
		writeFailure(w, ErrBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s, ok := h.deps.Session(id)
		if !ok {
			writeFailure(w, fmt.Errorf("%w: %s", observe.ErrSessionNotFound, id))
			return
		}
		writeJSON(w, http.StatusOK, types.NewSession(s.Info()))
	case action == "" && r.Method == http.MethodDelete:
		var opts []observe.StopOption
		if v := r.URL.Query().Get("clear_anchor"); v != "" {
			wipe, err := strconv.ParseBool(v)
			if err != nil {
				writeFailure(w, fmt.Errorf("%w: clear_anchor must be a boolean", ErrBadRequest))
				return
			}
			if wipe {
				opts = append(opts, observe.WithClearAnchor())
			}
		}
		if err := h.deps.StopObserving(r.Context(), id, opts...); err != nil {
			writeFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "restart" && r.Method == http.MethodPost:
		if err := h.deps.RestartObserving(r.Context(), id); err != nil {
			writeFailure(w, err)
			return
		}
		s, ok := h.deps.Session(id)
		if !ok {
			writeFailure(w, fmt.Errorf("%w: %s", observe.ErrSessionNotFound, id))
			return
		}
		writeJSON(w, http.StatusOK, types.NewSession(s.Info()))
	default:
		http.NotFound(w, r)
	}
}
