package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/vitals/internal/domain/metric"
)

const dateLayout = "2006-01-02"

// AggregateDependencies defines what the aggregate handler needs.
type AggregateDependencies interface {
	Location() *time.Location
	Aggregate(ctx context.Context, kinds []metric.Kind, w metric.Window) (metric.CompositeRecord, error)
}

// AggregateHandler handles aggregate requests.
type AggregateHandler struct {
	deps AggregateDependencies
	now  func() time.Time
}

// NewAggregateHandler creates a new aggregate handler.
func NewAggregateHandler(deps AggregateDependencies, now func() time.Time) *AggregateHandler {
	return &AggregateHandler{deps: deps, now: now}
}

// HandleGetAggregate handles GET /aggregate?kinds=a,b with either
// date=YYYY-MM-DD (default today) or start and end as RFC3339.
func (h *AggregateHandler) HandleGetAggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	kinds, err := parseKindList(q.Get("kinds"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	win, err := h.window(q.Get("date"), q.Get("start"), q.Get("end"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if v := q.Get("include_manual"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			writeFailure(w, fmt.Errorf("%w: include_manual must be a boolean", ErrBadRequest))
			return
		}
		win.ExcludeManual = !include
	}

	rec, err := h.deps.Aggregate(r.Context(), kinds, win)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *AggregateHandler) window(date, start, end string) (metric.Window, error) {
	loc := h.deps.Location()
	switch {
	case start != "" || end != "":
		if date != "" {
			return metric.Window{}, fmt.Errorf("%w: use either date or start/end", ErrBadRequest)
		}
		from, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return metric.Window{}, fmt.Errorf("%w: start must be RFC3339", ErrBadRequest)
		}
		to, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return metric.Window{}, fmt.Errorf("%w: end must be RFC3339", ErrBadRequest)
		}
		return metric.NewWindow(from, to, true)
	case date != "":
		day, err := time.ParseInLocation(dateLayout, date, loc)
		if err != nil {
			return metric.Window{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrBadRequest)
		}
		return metric.DayWindow(day, loc), nil
	default:
		return metric.DayWindow(h.now(), loc), nil
	}
}

func parseKindList(raw string) ([]metric.Kind, error) {
	var names []string
	for _, n := range strings.Split(raw, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: kinds is required", ErrBadRequest)
	}
	return metric.ParseKinds(names)
}
