package types_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/observe"
	types "github.com/okian/vitals/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSampleInput(t *testing.T) {
	Convey("Given a sample input", t, func() {
		in := types.SampleInput{
			Kind:  "Step-Count",
			Start: "2024-05-02T08:00:00Z",
			End:   "2024-05-02T08:10:00Z",
			Value: 420,
		}

		Convey("When it is converted", func() {
			s, err := in.Sample()

			Convey("Then the kind is normalized and the unit defaulted", func() {
				So(err, ShouldBeNil)
				So(s.Kind, ShouldEqual, metric.StepCount)
				So(s.Unit, ShouldEqual, "count")
				So(s.Duration(), ShouldEqual, 10*time.Minute)
			})
		})

		Convey("When the end is missing", func() {
			in.End = ""
			s, err := in.Sample()

			Convey("Then the sample is instantaneous", func() {
				So(err, ShouldBeNil)
				So(s.End, ShouldEqual, s.Start)
			})
		})

		Convey("When a workout names its activity in kebab case", func() {
			w := types.SampleInput{Kind: "workout", Start: in.Start, End: in.End, Category: "Functional-Strength-Training"}
			s, err := w.Sample()

			Convey("Then the activity is normalised", func() {
				So(err, ShouldBeNil)
				So(s.Kind, ShouldEqual, metric.Workout)
				So(s.Category, ShouldEqual, "functional_strength_training")
			})
		})

		Convey("When fields are invalid", func() {
			bad := []types.SampleInput{
				{Kind: "pulse", Start: in.Start},
				{Kind: "step_count", Start: "yesterday"},
				{Kind: "step_count", Start: in.End, End: in.Start},
				{Kind: "sleep_stage", Start: in.Start, End: in.End},
				{Kind: "workout", Start: in.Start, End: in.End, Category: "kitesurfing"},
			}

			Convey("Then each is rejected", func() {
				for _, b := range bad {
					_, err := b.Sample()
					So(errors.Is(err, types.ErrInvalidInput), ShouldBeTrue)
				}
			})
		})
	})

	Convey("Given an empty samples request", t, func() {
		_, err := types.SamplesRequest{}.Samples()

		Convey("Then it is rejected", func() {
			So(errors.Is(err, types.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func TestAuthorizeRequest(t *testing.T) {
	Convey("Given an authorize request", t, func() {
		Convey("When both lists parse", func() {
			w, r, err := types.AuthorizeRequest{Write: []string{"body_mass"}, Read: []string{"heart_rate"}}.Kinds()

			Convey("Then kinds come back", func() {
				So(err, ShouldBeNil)
				So(w, ShouldResemble, []metric.Kind{metric.BodyMass})
				So(r, ShouldResemble, []metric.Kind{metric.HeartRate})
			})
		})

		Convey("When nothing is asked for", func() {
			_, _, err := types.AuthorizeRequest{}.Kinds()

			Convey("Then it is rejected", func() {
				So(errors.Is(err, types.ErrInvalidInput), ShouldBeTrue)
			})
		})
	})
}

func TestNewSession(t *testing.T) {
	Convey("Given a session snapshot", t, func() {
		key, err := metric.NewObservationKey(metric.StepCount, metric.HeartRate)
		So(err, ShouldBeNil)
		info := observe.Info{
			ID:        "s-1",
			Key:       key,
			Strategy:  observe.StrategyCursor,
			State:     observe.StateDegraded,
			Failures:  3,
			LastError: errors.New("feed broke"),
		}

		Convey("When it is rendered", func() {
			raw, err := json.Marshal(types.NewSession(info))
			So(err, ShouldBeNil)
			var out map[string]any
			So(json.Unmarshal(raw, &out), ShouldBeNil)

			Convey("Then state and error are readable", func() {
				So(out["id"], ShouldEqual, "s-1")
				So(out["strategy"], ShouldEqual, "cursor")
				So(out["state"], ShouldEqual, "degraded")
				So(out["last_error"], ShouldEqual, "feed broke")
				So(out["granted"], ShouldResemble, []any{})
				So(out, ShouldNotContainKey, "last_delivery")
				So(out["kinds"], ShouldHaveLength, 2)
			})
		})
	})
}
