package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/vitals/internal/domain/types"
	"github.com/okian/vitals/internal/domain/workout"
)

// WorkoutsDependencies defines what the workouts handler needs.
type WorkoutsDependencies interface {
	Location() *time.Location
	Workouts(ctx context.Context, day time.Time, activities ...workout.Activity) ([]workout.Workout, error)
}

// WorkoutsHandler handles workout listings.
type WorkoutsHandler struct {
	deps WorkoutsDependencies
	now  func() time.Time
}

// NewWorkoutsHandler creates a new workouts handler.
func NewWorkoutsHandler(deps WorkoutsDependencies, now func() time.Time) *WorkoutsHandler {
	return &WorkoutsHandler{deps: deps, now: now}
}

// HandleGetWorkouts handles GET /workouts?date=YYYY-MM-DD&activity=a,b.
// The date defaults to today; no activity means all of them.
func (h *WorkoutsHandler) HandleGetWorkouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	day := h.now()
	if date := q.Get("date"); date != "" {
		d, err := time.ParseInLocation(dateLayout, date, h.deps.Location())
		if err != nil {
			writeFailure(w, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrBadRequest))
			return
		}
		day = d
	}
	var activities []workout.Activity
	for _, raw := range q["activity"] {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			a, err := workout.ParseActivity(name)
			if err != nil {
				writeFailure(w, err)
				return
			}
			activities = append(activities, a)
		}
	}

	found, err := h.deps.Workouts(r.Context(), day, activities...)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewWorkouts(found))
}
