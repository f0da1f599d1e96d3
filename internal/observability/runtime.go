package observability

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sandeepkv93/bmc-account-service/internal/config"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runtime owns the OpenTelemetry providers for the lifetime of the process.
// LoggerProvider is nil when log export is disabled.
type Runtime struct {
	LoggerProvider *sdklog.LoggerProvider
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
}

type shutdownFunc func(context.Context) error

func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	var started []shutdownFunc
	unwind := func(err error) (*Runtime, error) {
		for i := len(started) - 1; i >= 0; i-- {
			_ = started[i](ctx)
		}
		return nil, err
	}

	lp, err := InitLogs(ctx, cfg, logger)
	if err != nil {
		return unwind(err)
	}
	if lp != nil {
		rt.LoggerProvider = lp
		started = append(started, lp.Shutdown)
	}

	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return unwind(err)
	}
	rt.MeterProvider = mp
	started = append(started, mp.Shutdown)

	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		return unwind(err)
	}
	rt.TracerProvider = tp

	logger.Info("observability runtime ready",
		"service", cfg.OTELServiceName,
		"logs", cfg.OTELLogsEnabled,
		"metrics", cfg.OTELMetricsEnabled,
		"traces", cfg.OTELTracingEnabled,
	)
	return rt, nil
}

// Shutdown flushes traces first so spans ending during drain are exported
// before the metric and log pipelines close.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, fn := range r.shutdownOrder() {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) shutdownOrder() []shutdownFunc {
	var out []shutdownFunc
	if r.TracerProvider != nil {
		out = append(out, r.TracerProvider.Shutdown)
	}
	if r.MeterProvider != nil {
		out = append(out, r.MeterProvider.Shutdown)
	}
	if r.LoggerProvider != nil {
		out = append(out, r.LoggerProvider.Shutdown)
	}
	return out
}
