package telemetry_test

import (
	"context"
	"testing"

	"github.com/okian/vitals/internal/telemetry"
	. "github.com/smartystreets/goconvey/convey"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// keepExporter keeps spans past Shutdown so they can be inspected.
type keepExporter struct {
	*tracetest.InMemoryExporter
}

func (keepExporter) Shutdown(context.Context) error { return nil }

func TestInit(t *testing.T) {
	Convey("Given no endpoint", t, func() {
		shutdown, err := telemetry.Init(context.Background(), "", "vitals", "test", true)

		Convey("Then tracing is a no-op", func() {
			So(err, ShouldBeNil)
			So(shutdown(context.Background()), ShouldBeNil)
		})
	})

	Convey("Given an in-memory exporter", t, func() {
		ctx := context.Background()
		exp := tracetest.NewInMemoryExporter()
		shutdown, err := telemetry.Init(ctx, "", "vitals", "test", true, telemetry.WithExporter(keepExporter{exp}))
		So(err, ShouldBeNil)

		Convey("When a span ends and the provider shuts down", func() {
			_, span := telemetry.Tracer("vitals/test").Start(ctx, "aggregate")
			span.End()
			So(shutdown(ctx), ShouldBeNil)

			Convey("Then the span was exported with the service resource", func() {
				spans := exp.GetSpans()
				So(len(spans), ShouldEqual, 1)
				So(spans[0].Name, ShouldEqual, "aggregate")
				found := false
				for _, kv := range spans[0].Resource.Attributes() {
					if string(kv.Key) == "service.name" && kv.Value.AsString() == "vitals" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}
