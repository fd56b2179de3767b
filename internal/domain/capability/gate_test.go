package capability_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/vitals/internal/domain/capability"
	"github.com/okian/vitals/internal/domain/metric"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeProvider struct {
	mu          sync.Mutex
	unavailable bool
	statuses    map[metric.Kind]capability.Status
	statusCalls int
	requestErr  error
	requests    atomic.Int32
	block       chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{statuses: map[metric.Kind]capability.Status{}}
}

func (f *fakeProvider) Available(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable
}

func (f *fakeProvider) Status(_ context.Context, k metric.Kind) (capability.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.statuses[k], nil
}

func (f *fakeProvider) RequestAuthorization(_ context.Context, _, read []metric.Kind) error {
	f.requests.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return f.requestErr
	}
	for _, k := range read {
		f.statuses[k] = capability.StatusGranted
	}
	return nil
}

func (f *fakeProvider) set(k metric.Kind, st capability.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[k] = st
}

func TestGateCheckStatus(t *testing.T) {
	Convey("Given a gate over a provider", t, func() {
		ctx := context.Background()
		p := newFakeProvider()
		g := capability.NewGate(p)

		Convey("When the kind is granted", func() {
			p.set(metric.StepCount, capability.StatusGranted)
			ok, err := g.CheckStatus(ctx, metric.StepCount)

			Convey("Then it can be read", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When the kind was never requested", func() {
			ok, err := g.CheckStatus(ctx, metric.HeartRate)

			Convey("Then the caller is told to request first", func() {
				So(ok, ShouldBeFalse)
				So(errors.Is(err, capability.ErrNeedsAuthorizationRequest), ShouldBeTrue)
			})
		})

		Convey("When the kind is denied", func() {
			p.set(metric.BodyMass, capability.StatusDeniedOrUnavailable)
			ok, err := g.CheckStatus(ctx, metric.BodyMass)

			Convey("Then it is simply false", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the store is not present", func() {
			p.unavailable = true
			_, err := g.CheckStatus(ctx, metric.StepCount)

			Convey("Then the check fails as unavailable", func() {
				So(errors.Is(err, capability.ErrUnavailable), ShouldBeTrue)
				So(errors.Is(g.Available(ctx), capability.ErrUnavailable), ShouldBeTrue)
			})
		})

		Convey("When a grant changes between checks", func() {
			p.set(metric.StepCount, capability.StatusGranted)
			first, _ := g.CheckStatus(ctx, metric.StepCount)
			p.set(metric.StepCount, capability.StatusDeniedOrUnavailable)
			second, _ := g.CheckStatus(ctx, metric.StepCount)

			Convey("Then the second check sees the new state", func() {
				So(first, ShouldBeTrue)
				So(second, ShouldBeFalse)
				So(p.statusCalls, ShouldEqual, 2)
			})
		})
	})
}

func TestGateRequestAuthorization(t *testing.T) {
	Convey("Given a gate over a provider", t, func() {
		ctx := context.Background()
		p := newFakeProvider()
		g := capability.NewGate(p)

		Convey("When both sets are empty", func() {
			err := g.RequestAuthorization(ctx, nil, nil)

			Convey("Then the parameters are invalid", func() {
				So(errors.Is(err, capability.ErrInvalidParameters), ShouldBeTrue)
				So(p.requests.Load(), ShouldEqual, 0)
			})
		})

		Convey("When a set holds an unknown kind", func() {
			err := g.RequestAuthorization(ctx, nil, []metric.Kind{"bogus"})

			Convey("Then the parameters are invalid", func() {
				So(errors.Is(err, capability.ErrInvalidParameters), ShouldBeTrue)
			})
		})

		Convey("When the store is not present", func() {
			p.unavailable = true
			err := g.RequestAuthorization(ctx, nil, []metric.Kind{metric.StepCount})

			Convey("Then the request fails as unavailable", func() {
				So(errors.Is(err, capability.ErrUnavailable), ShouldBeTrue)
			})
		})

		Convey("When the provider rejects the request", func() {
			p.requestErr = errors.New("user dismissed sheet")
			err := g.RequestAuthorization(ctx, nil, []metric.Kind{metric.StepCount})

			Convey("Then the error is a request denial carrying the cause", func() {
				So(errors.Is(err, capability.ErrRequestDenied), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "user dismissed sheet")
			})
		})

		Convey("When the provider grants", func() {
			err := g.RequestAuthorization(ctx, nil, []metric.Kind{metric.StepCount})

			Convey("Then later checks pass", func() {
				So(err, ShouldBeNil)
				ok, err := g.CheckStatus(ctx, metric.StepCount)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When concurrent callers request the same set", func() {
			p.block = make(chan struct{})
			var wg sync.WaitGroup
			errs := make([]error, 5)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					kinds := []metric.Kind{metric.StepCount, metric.HeartRate}
					if i%2 == 1 {
						kinds = []metric.Kind{metric.HeartRate, metric.StepCount}
					}
					errs[i] = g.RequestAuthorization(ctx, nil, kinds)
				}(i)
			}
			time.Sleep(50 * time.Millisecond)
			close(p.block)
			wg.Wait()

			Convey("Then the provider is prompted once", func() {
				for _, err := range errs {
					So(err, ShouldBeNil)
				}
				So(p.requests.Load(), ShouldEqual, 1)
			})
		})

		Convey("When the waiting caller is cancelled", func() {
			p.block = make(chan struct{})
			cctx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- g.RequestAuthorization(cctx, nil, []metric.Kind{metric.StepCount}) }()
			time.Sleep(20 * time.Millisecond)
			cancel()
			err := <-done
			close(p.block)

			Convey("Then it returns the context error", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}
