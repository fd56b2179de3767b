// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/vitals/internal/domain/aggregate"
	"github.com/okian/vitals/internal/domain/capability"
	"github.com/okian/vitals/internal/domain/fetch"
	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/observe"
	"github.com/okian/vitals/internal/domain/types"
	"github.com/okian/vitals/internal/domain/workout"
	"github.com/okian/vitals/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the engine.
type Dependencies interface {
	EngineStats

	Location() *time.Location
	Aggregate(ctx context.Context, kinds []metric.Kind, w metric.Window) (metric.CompositeRecord, error)
	Ingest(ctx context.Context, samples ...model.Sample) error
	RequestAuthorization(ctx context.Context, write, read []metric.Kind) error
	Workouts(ctx context.Context, day time.Time, activities ...workout.Activity) ([]workout.Workout, error)

	OpenObservation(ctx context.Context, kinds []metric.Kind, cb observe.Callback, opts ...observe.StartOption) (*observe.Session, bool, error)
	StopObserving(ctx context.Context, id string, opts ...observe.StopOption) error
	RestartObserving(ctx context.Context, id string) error
	Session(id string) (*observe.Session, bool)
	Sessions() []*observe.Session
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler       *HealthHandler
	statsHandler        *StatsHandler
	aggregateHandler    *AggregateHandler
	samplesHandler      *SamplesHandler
	authorizeHandler    *AuthorizeHandler
	observationsHandler *ObservationsHandler
	workoutsHandler     *WorkoutsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := options{logger: logger.GetOrNop(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	l := cfg.logger.Named("api")
	return &Server{
		healthHandler:       NewHealthHandler(),
		statsHandler:        NewStatsHandler(deps),
		aggregateHandler:    NewAggregateHandler(deps, cfg.now),
		samplesHandler:      NewSamplesHandler(deps),
		authorizeHandler:    NewAuthorizeHandler(deps),
		observationsHandler: NewObservationsHandler(deps, l),
		workoutsHandler:     NewWorkoutsHandler(deps, cfg.now),
	}
}

// Option configures a Server.
type Option func(*options)

type options struct {
	logger logger.Logger
	now    func() time.Time
}

// WithLogger sets the logger used by handlers.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the clock that picks "today" for /aggregate and
// /workouts.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", MetricsMiddleware(s.healthHandler.HandleHealth, "metrics"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/aggregate", MetricsMiddleware(s.aggregateHandler.HandleGetAggregate, "aggregate"))
	mux.HandleFunc("/workouts", MetricsMiddleware(s.workoutsHandler.HandleGetWorkouts, "workouts"))
	mux.HandleFunc("/samples", MetricsMiddleware(s.samplesHandler.HandlePostSamples, "samples"))
	mux.HandleFunc("/authorize", MetricsMiddleware(s.authorizeHandler.HandlePostAuthorize, "authorize"))
	mux.HandleFunc("/observations", MetricsMiddleware(s.observationsHandler.HandleCollection, "observations"))
	mux.HandleFunc("/observations/", MetricsMiddleware(s.observationsHandler.HandleItem, "observation"))
}

type ackResponse struct {
	Status string `json:"status"`
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

// writeFailure maps engine errors onto status codes.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, types.ErrInvalidInput),
		errors.Is(err, metric.ErrUnknownKind),
		errors.Is(err, metric.ErrEmptyKey),
		errors.Is(err, metric.ErrInvalidWindow),
		errors.Is(err, aggregate.ErrInvalidParameters),
		errors.Is(err, observe.ErrInvalidParameters),
		errors.Is(err, observe.ErrCursorUnsupported),
		errors.Is(err, capability.ErrInvalidParameters),
		errors.Is(err, workout.ErrUnknownActivity):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound), errors.Is(err, observe.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, capability.ErrAuthorizationDenied), errors.Is(err, fetch.ErrUnauthorized):
		return http.StatusForbidden, "authorization_denied"
	case errors.Is(err, observe.ErrNotDegraded), errors.Is(err, observe.ErrSessionStopped):
		return http.StatusConflict, "conflict"
	case errors.Is(err, observe.ErrTooManySessions):
		return http.StatusTooManyRequests, "too_many_sessions"
	case errors.Is(err, capability.ErrUnavailable),
		errors.Is(err, capability.ErrRequestDenied),
		errors.Is(err, observe.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, aggregate.ErrCancelled),
		errors.Is(err, observe.ErrCancelled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, ErrUnsupported), errors.Is(err, errors.ErrUnsupported):
		return http.StatusNotImplemented, "unsupported"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
