package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/vitals/internal/adapters/healthstore"
	"github.com/okian/vitals/internal/adapters/repository"
	service "github.com/okian/vitals/internal/app"
	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/observe"
	. "github.com/smartystreets/goconvey/convey"
)

func openEngine(ctx context.Context, hs *healthstore.MemoryStore, path string) (*service.Engine, error) {
	kv, err := repository.NewSQLiteStore(ctx, path)
	if err != nil {
		return nil, err
	}
	return service.New(hs, hs, kv,
		service.WithLocation(time.UTC),
		service.WithClock(func() time.Time { return now }),
		service.WithDefaultStrategy(observe.StrategyCursor),
		service.WithAnchorKeyPrefix("user-1/"),
	), nil
}

func TestEngineResumesAcrossRestarts(t *testing.T) {
	Convey("Given a cursor observation persisted in SQLite", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "anchors.db")
		hs := healthstore.New(healthstore.WithGrantAll())
		kinds := []metric.Kind{metric.StepCount}

		results := make(chan observe.Result, 16)
		cb := func(_ context.Context, res observe.Result) error {
			results <- res
			return nil
		}
		next := func() (observe.Result, bool) {
			select {
			case r := <-results:
				return r, true
			case <-time.After(2 * time.Second):
				return observe.Result{}, false
			}
		}

		first, err := openEngine(ctx, hs, path)
		So(err, ShouldBeNil)
		s, err := first.StartObserving(ctx, kinds, cb)
		So(err, ShouldBeNil)
		So(s.Strategy(), ShouldEqual, observe.StrategyCursor)

		So(first.Ingest(ctx, stepsAt(7*time.Hour, 100)), ShouldBeNil)
		res, ok := next()
		So(ok, ShouldBeTrue)
		v, _ := res.Record.Value(metric.StepCount)
		So(v, ShouldEqual, 100)
		So(first.Close(ctx), ShouldBeNil)

		Convey("When a new engine starts the same observation", func() {
			second, err := openEngine(ctx, hs, path)
			So(err, ShouldBeNil)
			defer second.Close(ctx)
			_, err = second.StartObserving(ctx, kinds, cb)
			So(err, ShouldBeNil)

			Convey("Then already delivered changes are not repeated", func() {
				select {
				case <-results:
					So("unexpected redelivery", ShouldBeEmpty)
				case <-time.After(100 * time.Millisecond):
				}

				So(second.Ingest(ctx, stepsAt(9*time.Hour, 50)), ShouldBeNil)
				res, ok := next()
				So(ok, ShouldBeTrue)
				v, _ := res.Record.Value(metric.StepCount)
				So(v, ShouldEqual, 150)
			})
		})

		Convey("When the anchor is cleared before restarting", func() {
			second, err := openEngine(ctx, hs, path)
			So(err, ShouldBeNil)
			defer second.Close(ctx)
			So(second.ClearAnchor(ctx, kinds), ShouldBeNil)
			_, err = second.StartObserving(ctx, kinds, cb)
			So(err, ShouldBeNil)

			Convey("Then the catch-up delivers the whole day again", func() {
				res, ok := next()
				So(ok, ShouldBeTrue)
				v, _ := res.Record.Value(metric.StepCount)
				So(v, ShouldEqual, 100)
			})
		})
	})
}
