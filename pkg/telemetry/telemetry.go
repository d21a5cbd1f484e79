// Package telemetry is the bridge daemon's optional metrics recorder:
// request counts, error counts, and request latency, exported through
// the OpenTelemetry metric API the way the gateway's own tool-call
// instrumentation does. It is gated entirely behind MCPC_OTEL — when
// disabled, every method is a no-op so the hot path never branches on
// whether telemetry is wired.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

const meterName = "github.com/mcpc-dev/mcpc/pkg/bridge"

// Recorder records per-request bridge metrics. The zero value (as
// returned by NewRecorder(false)) is a valid, fully inert recorder.
type Recorder struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRecorder builds a Recorder. When enabled is false it registers no
// meter provider and every instrument is left nil, so Record* calls are
// no-ops. When enabled, it installs a process-wide SDK meter provider
// with a manual reader — this program has no metrics backend of its
// own to push to, so the reader exists to make the instruments real and
// collectible by anything that later calls
// otel.GetMeterProvider().(*sdkmetric.MeterProvider).
func NewRecorder(enabled bool) (*Recorder, error) {
	if !enabled {
		return &Recorder{}, nil
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(meterName)

	requests, err := meter.Int64Counter("mcpc.bridge.requests",
		metric.WithDescription("IPC requests handled by the bridge daemon"))
	if err != nil {
		return nil, mcpcerr.WrapClient("creating requests counter", err)
	}
	errs, err := meter.Int64Counter("mcpc.bridge.errors",
		metric.WithDescription("IPC requests that returned an error"))
	if err != nil {
		return nil, mcpcerr.WrapClient("creating errors counter", err)
	}
	duration, err := meter.Float64Histogram("mcpc.bridge.request.duration",
		metric.WithDescription("IPC request duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, mcpcerr.WrapClient("creating duration histogram", err)
	}

	return &Recorder{requests: requests, errors: errs, duration: duration}, nil
}

// RecordRequest records one dispatched IPC request: its method, whether
// it errored, and how long it took. A nil Recorder is safe to call on.
func (r *Recorder) RecordRequest(ctx context.Context, method string, err error, elapsed time.Duration) {
	if r == nil || r.requests == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("method", method))
	r.requests.Add(ctx, 1, attrs)
	r.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	if err != nil {
		r.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("kind", errKind(err)),
		))
	}
}

func errKind(err error) string {
	switch err.(type) {
	case *mcpcerr.ServerError:
		return "server"
	case *mcpcerr.TransportError:
		return "transport"
	case *mcpcerr.AuthError:
		return "auth"
	default:
		return "client"
	}
}
