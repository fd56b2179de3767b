package observe_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/vitals/internal/adapters/healthstore"
	"github.com/okian/vitals/internal/adapters/mq/queue"
	"github.com/okian/vitals/internal/adapters/mq/worker"
	"github.com/okian/vitals/internal/adapters/repository"
	"github.com/okian/vitals/internal/domain/aggregate"
	"github.com/okian/vitals/internal/domain/anchor"
	"github.com/okian/vitals/internal/domain/capability"
	"github.com/okian/vitals/internal/domain/fetch"
	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/observe"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	day = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	now = day.Add(14 * time.Hour)
)

type rig struct {
	hs       *healthstore.MemoryStore
	kv       anchor.KV
	anchors  *anchor.Store
	observer *observe.Observer
}

func pipeline(capacity int, handle observe.HandleFunc) (observe.Mailbox, observe.Deliverer) {
	q := queue.NewInMemoryQueue(queue.WithCapacity(capacity))
	return q, worker.NewInMemoryWorker(q, worker.HandlerFunc(handle), worker.WithName("session"))
}

func newRig(hs *healthstore.MemoryStore, kv anchor.KV, opts ...observe.Option) *rig {
	gate := capability.NewGate(hs)
	agg := aggregate.New(fetch.New(hs, gate), gate)
	anchors := anchor.NewStore(kv)
	base := []observe.Option{
		observe.WithCursor(hs),
		observe.WithClock(func() time.Time { return now }),
		observe.WithLocation(time.UTC),
	}
	return &rig{
		hs:       hs,
		kv:       kv,
		anchors:  anchors,
		observer: observe.New(gate, agg, hs, anchors, pipeline, append(base, opts...)...),
	}
}

func stepSample(at time.Duration, n float64) model.Sample {
	return model.Sample{
		Kind: metric.StepCount, Start: day.Add(at), End: day.Add(at + 5*time.Minute),
		Value: n, Unit: "count",
	}
}

// collector is a callback that records every result and can be told to fail.
type collector struct {
	mu      sync.Mutex
	results chan observe.Result
	fail    int
}

func newCollector() *collector {
	return &collector{results: make(chan observe.Result, 64)}
}

func (c *collector) failNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = n
}

func (c *collector) callback(_ context.Context, res observe.Result) error {
	c.results <- res
	if res.Err != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return errors.New("consumer rejected record")
	}
	return nil
}

func (c *collector) next() (observe.Result, bool) {
	select {
	case r := <-c.results:
		return r, true
	case <-time.After(2 * time.Second):
		return observe.Result{}, false
	}
}

func (c *collector) quiet(d time.Duration) bool {
	select {
	case <-c.results:
		return false
	case <-time.After(d):
		return true
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func steps(res observe.Result) float64 {
	v, _ := res.Record.Value(metric.StepCount)
	return v
}

func TestObserverDelivery(t *testing.T) {
	Convey("Given an active notification session on step count", t, func() {
		ctx := context.Background()
		r := newRig(healthstore.New(healthstore.WithGrantAll()), repository.NewMemoryStore())
		defer r.observer.Close(ctx)
		c := newCollector()

		s, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, c.callback)
		So(err, ShouldBeNil)
		So(s.State(), ShouldEqual, observe.StateActive)
		So(s.Strategy(), ShouldEqual, observe.StrategyNotification)
		So(s.ID(), ShouldNotBeEmpty)
		So(r.hs.Subscribers(), ShouldEqual, 1)

		Convey("When steps are added", func() {
			So(r.hs.Add(ctx, stepSample(8*time.Hour, 4200)), ShouldBeNil)

			Convey("Then today's record is delivered and the anchor stored", func() {
				res, ok := c.next()
				So(ok, ShouldBeTrue)
				So(res.Err, ShouldBeNil)
				So(res.SessionID, ShouldEqual, s.ID())
				So(res.Record.Kinds(), ShouldResemble, []metric.Kind{metric.StepCount})
				So(steps(res), ShouldEqual, 4200)
				So(res.Record.Window().Start, ShouldEqual, day)

				So(eventually(func() bool {
					_, ok, _ := r.anchors.Get(ctx, s.Key())
					return ok
				}), ShouldBeTrue)
				So(s.Info().Deliveries, ShouldEqual, 1)
			})
		})

		Convey("When an unwatched kind changes", func() {
			So(r.hs.Add(ctx, model.Sample{Kind: metric.HeartRate, Start: now, End: now, Value: 70, Unit: "count/min"}), ShouldBeNil)

			Convey("Then nothing is delivered", func() {
				So(c.quiet(100*time.Millisecond), ShouldBeTrue)
			})
		})

		Convey("When the session is stopped", func() {
			So(s.Stop(ctx), ShouldBeNil)

			Convey("Then it is idle, done and its key is free", func() {
				So(s.State(), ShouldEqual, observe.StateIdle)
				select {
				case <-s.Done():
				default:
					So("done not closed", ShouldBeEmpty)
				}
				So(s.Err(), ShouldBeNil)
				So(r.observer.Sessions(), ShouldBeEmpty)
				So(eventually(func() bool { return r.hs.Subscribers() == 0 }), ShouldBeTrue)
				So(s.Stop(ctx), ShouldBeNil)
				So(errors.Is(s.Restart(ctx), observe.ErrSessionStopped), ShouldBeTrue)

				So(r.hs.Add(ctx, stepSample(9*time.Hour, 10)), ShouldBeNil)
				So(c.quiet(100*time.Millisecond), ShouldBeTrue)
			})

			Convey("And started again", func() {
				again, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, c.callback)

				Convey("Then a new session takes the key", func() {
					So(err, ShouldBeNil)
					So(again.ID(), ShouldNotEqual, s.ID())
				})
			})
		})

		Convey("When Restart is called on an active session", func() {
			err := s.Restart(ctx)

			Convey("Then it is refused", func() {
				So(errors.Is(err, observe.ErrNotDegraded), ShouldBeTrue)
			})
		})
	})
}

func TestObserverKeyDeduplication(t *testing.T) {
	Convey("Given many callers starting the same kinds in different orders", t, func() {
		ctx := context.Background()
		r := newRig(healthstore.New(healthstore.WithGrantAll()), repository.NewMemoryStore())
		defer r.observer.Close(ctx)

		orders := [][]metric.Kind{
			{metric.StepCount, metric.HeartRate},
			{metric.HeartRate, metric.StepCount},
			{metric.HeartRate, metric.StepCount, metric.HeartRate},
		}
		sessions := make([]*observe.Session, 12)
		errs := make([]error, 12)
		var wg sync.WaitGroup
		for i := range sessions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sessions[i], errs[i] = r.observer.Start(ctx, orders[i%len(orders)], newCollector().callback)
			}()
		}
		wg.Wait()

		Convey("Then they all share one session and one subscription", func() {
			for i := range sessions {
				So(errs[i], ShouldBeNil)
				So(sessions[i], ShouldEqual, sessions[0])
			}
			So(len(r.observer.Sessions()), ShouldEqual, 1)
			So(sessions[0].Key().String(), ShouldEqual, "heart_rate+step_count")
			So(eventually(func() bool { return sessions[0].State() == observe.StateActive }), ShouldBeTrue)
			So(r.hs.Subscribers(), ShouldEqual, 1)

			found, ok := r.observer.Session(sessions[0].ID())
			So(ok, ShouldBeTrue)
			So(found, ShouldEqual, sessions[0])
			found, ok = r.observer.Lookup([]metric.Kind{metric.StepCount, metric.HeartRate})
			So(ok, ShouldBeTrue)
			So(found, ShouldEqual, sessions[0])
		})
	})
}

func TestObserverStarting(t *testing.T) {
	Convey("Given a store where nothing was requested yet", t, func() {
		ctx := context.Background()
		hs := healthstore.New()
		r := newRig(hs, repository.NewMemoryStore())
		defer r.observer.Close(ctx)

		Convey("When a session starts", func() {
			s, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount, metric.BodyMass}, newCollector().callback)

			Convey("Then authorization is requested once and the session is active", func() {
				So(err, ShouldBeNil)
				So(s.State(), ShouldEqual, observe.StateActive)
				So(hs.Prompts(), ShouldEqual, 1)
				So(s.Info().Granted, ShouldResemble, []metric.Kind{metric.BodyMass, metric.StepCount})
			})
		})

		Convey("When some kinds are denied", func() {
			hs.SetStatus(metric.BodyMass, capability.StatusDeniedOrUnavailable)
			s, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount, metric.BodyMass}, newCollector().callback)

			Convey("Then the session watches the granted ones", func() {
				So(err, ShouldBeNil)
				So(s.Info().Granted, ShouldResemble, []metric.Kind{metric.StepCount})
				So(s.Kinds(), ShouldResemble, []metric.Kind{metric.BodyMass, metric.StepCount})
			})
		})
	})

	Convey("Given a store that denies every prompt", t, func() {
		ctx := context.Background()
		hs := healthstore.New(healthstore.WithPromptAnswer(capability.StatusDeniedOrUnavailable))
		r := newRig(hs, repository.NewMemoryStore())
		defer r.observer.Close(ctx)

		Convey("When a session starts", func() {
			s, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, newCollector().callback)

			Convey("Then it fails with authorization denied and frees the key", func() {
				So(s, ShouldBeNil)
				So(errors.Is(err, capability.ErrAuthorizationDenied), ShouldBeTrue)
				So(r.observer.Sessions(), ShouldBeEmpty)
				So(hs.Subscribers(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given an unavailable store", t, func() {
		ctx := context.Background()
		hs := healthstore.New(healthstore.WithGrantAll())
		hs.SetAvailable(false)
		r := newRig(hs, repository.NewMemoryStore())
		defer r.observer.Close(ctx)

		Convey("When a session starts", func() {
			_, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, newCollector().callback)

			Convey("Then it fails with unavailable", func() {
				So(errors.Is(err, capability.ErrUnavailable), ShouldBeTrue)
				So(r.observer.Sessions(), ShouldBeEmpty)
			})
		})
	})

	Convey("Given a slow authorization prompt", t, func() {
		hs := healthstore.New(healthstore.WithLatencyRange(time.Second, 2*time.Second))
		r := newRig(hs, repository.NewMemoryStore())
		defer r.observer.Close(context.Background())

		Convey("When the caller gives up while starting", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, newCollector().callback)

			Convey("Then Start reports cancellation and the key is released", func() {
				So(errors.Is(err, observe.ErrCancelled), ShouldBeTrue)
				So(r.observer.Sessions(), ShouldBeEmpty)
			})
		})
	})

	Convey("Given bad arguments", t, func() {
		ctx := context.Background()
		r := newRig(healthstore.New(healthstore.WithGrantAll()), repository.NewMemoryStore())
		defer r.observer.Close(ctx)

		Convey("Then Start rejects them", func() {
			_, err := r.observer.Start(ctx, nil, newCollector().callback)
			So(errors.Is(err, observe.ErrInvalidParameters), ShouldBeTrue)
			_, err = r.observer.Start(ctx, []metric.Kind{metric.StepCount}, nil)
			So(errors.Is(err, observe.ErrInvalidParameters), ShouldBeTrue)
			_, err = r.observer.Start(ctx, []metric.Kind{metric.StepCount}, newCollector().callback, observe.WithStrategy("poll"))
			So(errors.Is(err, observe.ErrInvalidParameters), ShouldBeTrue)
		})
	})
}

func TestObserverSessionCap(t *testing.T) {
	Convey("Given an observer allowing one session", t, func() {
		ctx := context.Background()
		r := newRig(healthstore.New(healthstore.WithGrantAll()), repository.NewMemoryStore(), observe.WithMaxSessions(1))
		defer r.observer.Close(ctx)

		_, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, newCollector().callback)
		So(err, ShouldBeNil)

		Convey("When a second key is started", func() {
			_, err := r.observer.Start(ctx, []metric.Kind{metric.HeartRate}, newCollector().callback)

			Convey("Then it is refused", func() {
				So(errors.Is(err, observe.ErrTooManySessions), ShouldBeTrue)
			})
		})
	})
}

func TestObserverAtLeastOnce(t *testing.T) {
	Convey("Given a session whose callback rejects the first delivery", t, func() {
		ctx := context.Background()
		r := newRig(healthstore.New(healthstore.WithGrantAll()), repository.NewMemoryStore())
		defer r.observer.Close(ctx)
		c := newCollector()
		c.failNext(1)

		s, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, c.callback)
		So(err, ShouldBeNil)

		So(r.hs.Add(ctx, stepSample(8*time.Hour, 100)), ShouldBeNil)
		first, ok := c.next()
		So(ok, ShouldBeTrue)
		So(steps(first), ShouldEqual, 100)

		Convey("Then the anchor is not advanced", func() {
			So(c.quiet(50*time.Millisecond), ShouldBeTrue)
			_, stored, err := r.anchors.Get(ctx, s.Key())
			So(err, ShouldBeNil)
			So(stored, ShouldBeFalse)
			So(s.Info().LastError, ShouldNotBeNil)
			So(s.State(), ShouldEqual, observe.StateActive)
		})

		Convey("When the next change arrives", func() {
			So(r.hs.Add(ctx, stepSample(9*time.Hour, 50)), ShouldBeNil)

			Convey("Then the earlier data is delivered again with it", func() {
				second, ok := c.next()
				So(ok, ShouldBeTrue)
				So(steps(second), ShouldEqual, 150)
				So(eventually(func() bool {
					_, stored, _ := r.anchors.Get(ctx, s.Key())
					return stored
				}), ShouldBeTrue)
			})
		})
	})
}

func TestObserverDegradeAndRestart(t *testing.T) {
	Convey("Given an active session", t, func() {
		ctx := context.Background()
		r := newRig(healthstore.New(healthstore.WithGrantAll()), repository.NewMemoryStore())
		defer r.observer.Close(ctx)
		c := newCollector()

		s, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, c.callback)
		So(err, ShouldBeNil)

		Convey("When two feed errors arrive around a good notification", func() {
			r.hs.FailFeed(ctx, errors.New("feed hiccup"))
			r.hs.FailFeed(ctx, errors.New("feed hiccup"))
			So(r.hs.Add(ctx, stepSample(8*time.Hour, 10)), ShouldBeNil)
			r.hs.FailFeed(ctx, errors.New("feed hiccup"))
			r.hs.FailFeed(ctx, errors.New("feed hiccup"))

			Convey("Then the session stays active", func() {
				var failures, records int
				for i := 0; i < 5; i++ {
					res, ok := c.next()
					So(ok, ShouldBeTrue)
					if res.Err != nil {
						failures++
					} else {
						records++
					}
				}
				So(failures, ShouldEqual, 4)
				So(records, ShouldEqual, 1)
				So(s.State(), ShouldEqual, observe.StateActive)
			})
		})

		Convey("When three feed errors arrive in a row", func() {
			for i := 0; i < 3; i++ {
				r.hs.FailFeed(ctx, errors.New("feed broken"))
			}

			Convey("Then each is surfaced and the session degrades", func() {
				for i := 0; i < 3; i++ {
					res, ok := c.next()
					So(ok, ShouldBeTrue)
					So(res.Err, ShouldNotBeNil)
				}
				So(eventually(func() bool { return s.State() == observe.StateDegraded }), ShouldBeTrue)
				So(eventually(func() bool { return r.hs.Subscribers() == 0 }), ShouldBeTrue)

				So(r.hs.Add(ctx, stepSample(8*time.Hour, 10)), ShouldBeNil)
				So(c.quiet(100*time.Millisecond), ShouldBeTrue)

				Convey("And after a restart deliveries resume", func() {
					So(s.Restart(ctx), ShouldBeNil)
					So(s.State(), ShouldEqual, observe.StateActive)
					So(r.hs.Subscribers(), ShouldEqual, 1)

					So(r.hs.Add(ctx, stepSample(9*time.Hour, 5)), ShouldBeNil)
					res, ok := c.next()
					So(ok, ShouldBeTrue)
					So(steps(res), ShouldEqual, 15)
				})
			})
		})
	})
}

func TestObserverCursorStrategy(t *testing.T) {
	Convey("Given a cursor session", t, func() {
		ctx := context.Background()
		r := newRig(healthstore.New(healthstore.WithGrantAll()), repository.NewMemoryStore(),
			observe.WithDefaultStrategy(observe.StrategyCursor))
		defer r.observer.Close(ctx)
		c := newCollector()

		s, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, c.callback)
		So(err, ShouldBeNil)
		So(s.Strategy(), ShouldEqual, observe.StrategyCursor)
		// The catch-up read of an empty store contributes nothing.
		So(eventually(func() bool { return s.Info().HasAnchor }), ShouldBeTrue)

		Convey("When only zero-valued samples arrive", func() {
			before := s.Info()
			So(r.hs.Add(ctx, stepSample(8*time.Hour, 0)), ShouldBeNil)

			Convey("Then delivery is skipped but the anchor moves", func() {
				So(c.quiet(100*time.Millisecond), ShouldBeTrue)
				So(s.Info().Deliveries, ShouldEqual, before.Deliveries)
				tok, _, _ := r.anchors.Get(ctx, s.Key())
				set, err := r.hs.ChangesSince(ctx, []metric.Kind{metric.StepCount}, tok)
				So(err, ShouldBeNil)
				So(set.Samples, ShouldBeEmpty)
			})
		})

		Convey("When real samples arrive", func() {
			So(r.hs.Add(ctx, stepSample(8*time.Hour, 300)), ShouldBeNil)

			Convey("Then a record is delivered", func() {
				res, ok := c.next()
				So(ok, ShouldBeTrue)
				So(steps(res), ShouldEqual, 300)
			})
		})
	})
}

func TestObserverResumesFromAnchor(t *testing.T) {
	Convey("Given a cursor session that delivered and then shut down", t, func() {
		ctx := context.Background()
		hs := healthstore.New(healthstore.WithGrantAll())
		kv := repository.NewMemoryStore()
		kinds := []metric.Kind{metric.StepCount}

		first := newRig(hs, kv, observe.WithDefaultStrategy(observe.StrategyCursor))
		c1 := newCollector()
		s1, err := first.observer.Start(ctx, kinds, c1.callback)
		So(err, ShouldBeNil)
		So(hs.Add(ctx, stepSample(8*time.Hour, 500)), ShouldBeNil)
		_, ok := c1.next()
		So(ok, ShouldBeTrue)
		So(eventually(func() bool {
			tok, stored, _ := first.anchors.Get(ctx, s1.Key())
			set, _ := hs.ChangesSince(ctx, kinds, tok)
			return stored && len(set.Samples) == 0
		}), ShouldBeTrue)
		So(first.observer.Close(ctx), ShouldBeNil)
		So(s1.State(), ShouldEqual, observe.StateIdle)

		Convey("When a new process starts the same kinds", func() {
			second := newRig(hs, kv, observe.WithDefaultStrategy(observe.StrategyCursor))
			defer second.observer.Close(ctx)
			c2 := newCollector()
			_, err := second.observer.Start(ctx, kinds, c2.callback)
			So(err, ShouldBeNil)

			Convey("Then already delivered changes are not replayed", func() {
				So(c2.quiet(100*time.Millisecond), ShouldBeTrue)

				So(hs.Add(ctx, stepSample(9*time.Hour, 20)), ShouldBeNil)
				res, ok := c2.next()
				So(ok, ShouldBeTrue)
				So(steps(res), ShouldEqual, 520)
			})
		})

		Convey("When the anchor was cleared before restarting", func() {
			So(first.anchors.Clear(ctx, s1.Key()), ShouldBeNil)
			second := newRig(hs, kv, observe.WithDefaultStrategy(observe.StrategyCursor))
			defer second.observer.Close(ctx)
			c2 := newCollector()
			_, err := second.observer.Start(ctx, kinds, c2.callback)
			So(err, ShouldBeNil)

			Convey("Then the session catches up from the beginning", func() {
				res, ok := c2.next()
				So(ok, ShouldBeTrue)
				So(steps(res), ShouldEqual, 500)
			})
		})
	})
}

func TestObserverResumesAfterStoreRestart(t *testing.T) {
	Convey("Given an anchor written against a store that no longer exists", t, func() {
		ctx := context.Background()
		kv := repository.NewMemoryStore()
		kinds := []metric.Kind{metric.StepCount}

		before := healthstore.New(healthstore.WithGrantAll())
		first := newRig(before, kv, observe.WithDefaultStrategy(observe.StrategyCursor))
		c1 := newCollector()
		s1, err := first.observer.Start(ctx, kinds, c1.callback)
		So(err, ShouldBeNil)
		So(before.Add(ctx, stepSample(7*time.Hour, 1), stepSample(8*time.Hour, 2), stepSample(9*time.Hour, 3)), ShouldBeNil)
		_, ok := c1.next()
		So(ok, ShouldBeTrue)
		So(eventually(func() bool {
			tok, stored, _ := first.anchors.Get(ctx, s1.Key())
			set, err := before.ChangesSince(ctx, kinds, tok)
			return stored && err == nil && len(set.Samples) == 0
		}), ShouldBeTrue)
		So(first.observer.Close(ctx), ShouldBeNil)

		Convey("When a fresh store already holds new samples at start", func() {
			after := healthstore.New(healthstore.WithGrantAll())
			So(after.Add(ctx, stepSample(10*time.Hour, 4200)), ShouldBeNil)
			second := newRig(after, kv, observe.WithDefaultStrategy(observe.StrategyCursor))
			defer second.observer.Close(ctx)
			c2 := newCollector()
			s2, err := second.observer.Start(ctx, kinds, c2.callback)
			So(err, ShouldBeNil)

			Convey("Then they are delivered and the anchor is re-based on the new store", func() {
				res, ok := c2.next()
				So(ok, ShouldBeTrue)
				So(res.Err, ShouldBeNil)
				So(steps(res), ShouldEqual, 4200)
				So(eventually(func() bool {
					tok, stored, _ := second.anchors.Get(ctx, s2.Key())
					set, err := after.ChangesSince(ctx, kinds, tok)
					return stored && err == nil && len(set.Samples) == 0
				}), ShouldBeTrue)
				So(s2.State().Live(), ShouldBeTrue)
			})
		})
	})
}

func TestObserverStopDuringDelivery(t *testing.T) {
	Convey("Given a cursor session on a SQLite anchor store whose callback is mid-delivery", t, func() {
		ctx := context.Background()
		kv, err := repository.NewSQLiteStore(ctx, ":memory:")
		So(err, ShouldBeNil)
		defer kv.Close()
		kinds := []metric.Kind{metric.StepCount}

		r := newRig(healthstore.New(healthstore.WithGrantAll()), kv, observe.WithDefaultStrategy(observe.StrategyCursor))
		defer r.observer.Close(ctx)

		entered := make(chan struct{})
		var once sync.Once
		cb := func(cbCtx context.Context, res observe.Result) error {
			if res.Err != nil {
				return nil
			}
			once.Do(func() { close(entered) })
			// Hold the delivery open until the session is told to stop.
			<-cbCtx.Done()
			return nil
		}

		s, err := r.observer.Start(ctx, kinds, cb)
		So(err, ShouldBeNil)
		So(r.hs.Add(ctx, stepSample(8*time.Hour, 1)), ShouldBeNil)
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			So("delivery never started", ShouldBeEmpty)
		}

		delivered := func() bool {
			tok, stored, err := r.anchors.Get(ctx, s.Key())
			if err != nil || !stored {
				return false
			}
			set, err := r.hs.ChangesSince(ctx, kinds, tok)
			return err == nil && len(set.Samples) == 0
		}

		Convey("When the session is stopped", func() {
			So(s.Stop(ctx), ShouldBeNil)

			Convey("Then the accepted delivery still advanced the anchor", func() {
				So(s.State(), ShouldEqual, observe.StateIdle)
				So(delivered(), ShouldBeTrue)
			})
		})

		Convey("When the whole observer is closed", func() {
			So(r.observer.Close(ctx), ShouldBeNil)

			Convey("Then the accepted delivery still advanced the anchor", func() {
				So(s.State(), ShouldEqual, observe.StateIdle)
				So(delivered(), ShouldBeTrue)
			})
		})
	})
}

func TestObserverOpenReportsCreation(t *testing.T) {
	Convey("Given concurrent opens of the same kinds", t, func() {
		ctx := context.Background()
		r := newRig(healthstore.New(healthstore.WithGrantAll()), repository.NewMemoryStore())
		defer r.observer.Close(ctx)
		kinds := []metric.Kind{metric.StepCount, metric.HeartRate}

		const callers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			ids     = map[string]struct{}{}
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, isNew, err := r.observer.Open(ctx, kinds, newCollector().callback)
				if err != nil {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if isNew {
					created++
				}
				ids[s.ID()] = struct{}{}
			}()
		}
		wg.Wait()

		Convey("Then exactly one caller created the session", func() {
			So(created, ShouldEqual, 1)
			So(len(ids), ShouldEqual, 1)
			So(r.observer.Keys(), ShouldResemble, []string{"heart_rate+step_count"})
		})
	})
}

func TestObserverStopClearsAnchor(t *testing.T) {
	Convey("Given a session with a stored anchor", t, func() {
		ctx := context.Background()
		r := newRig(healthstore.New(healthstore.WithGrantAll()), repository.NewMemoryStore())
		defer r.observer.Close(ctx)
		c := newCollector()
		s, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, c.callback)
		So(err, ShouldBeNil)
		So(r.hs.Add(ctx, stepSample(8*time.Hour, 1)), ShouldBeNil)
		_, ok := c.next()
		So(ok, ShouldBeTrue)
		So(eventually(func() bool { return s.Info().HasAnchor }), ShouldBeTrue)

		Convey("When it is stopped with the clear option", func() {
			So(s.Stop(ctx, observe.WithClearAnchor()), ShouldBeNil)

			Convey("Then the anchor is gone", func() {
				_, stored, err := r.anchors.Get(ctx, s.Key())
				So(err, ShouldBeNil)
				So(stored, ShouldBeFalse)
			})
		})

		Convey("When it is stopped plainly", func() {
			So(s.Stop(ctx), ShouldBeNil)

			Convey("Then the anchor survives", func() {
				_, stored, _ := r.anchors.Get(ctx, s.Key())
				So(stored, ShouldBeTrue)
			})
		})
	})
}

func TestObserverClose(t *testing.T) {
	Convey("Given an observer with live sessions", t, func() {
		ctx := context.Background()
		r := newRig(healthstore.New(healthstore.WithGrantAll()), repository.NewMemoryStore())
		a, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, newCollector().callback)
		So(err, ShouldBeNil)
		b, err := r.observer.Start(ctx, []metric.Kind{metric.HeartRate}, newCollector().callback)
		So(err, ShouldBeNil)

		Convey("When it is closed", func() {
			So(r.observer.Close(ctx), ShouldBeNil)

			Convey("Then every session stops and new ones are refused", func() {
				So(a.State(), ShouldEqual, observe.StateIdle)
				So(b.State(), ShouldEqual, observe.StateIdle)
				_, err := r.observer.Start(ctx, []metric.Kind{metric.StepCount}, newCollector().callback)
				So(errors.Is(err, observe.ErrClosed), ShouldBeTrue)
				So(r.observer.Close(ctx), ShouldBeNil)
			})
		})
	})
}

func TestParseStrategy(t *testing.T) {
	Convey("Strategies parse by name", t, func() {
		s, err := observe.ParseStrategy("")
		So(err, ShouldBeNil)
		So(s, ShouldEqual, observe.StrategyNotification)
		s, err = observe.ParseStrategy(" Cursor ")
		So(err, ShouldBeNil)
		So(s, ShouldEqual, observe.StrategyCursor)
		_, err = observe.ParseStrategy("push")
		So(err, ShouldNotBeNil)
		So(observe.StateDegraded.String(), ShouldEqual, "degraded")
		So(observe.StateIdle.Live(), ShouldBeFalse)
	})
}
