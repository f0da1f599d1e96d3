package observability

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Redis only backs the login abuse guard and the distributed rate limiters,
// so commands are labelled by which of those the key belongs to.
const (
	redisPurposeAbuseGuard = "abuse_guard"
	redisPurposeRateLimit  = "rate_limit"
	redisPurposeOther      = "other"
)

// InstrumentRedisClient attaches command and pool metrics to client.
func InstrumentRedisClient(client redis.UniversalClient, logger *slog.Logger) {
	if client == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	hook, err := newRedisCommandHook(otel.Meter(meterName), client.PoolStats)
	if err != nil {
		logger.Warn("redis instrumentation disabled", "error", err)
		return
	}
	client.AddHook(hook)
	logger.Info("redis instrumentation enabled")
}

type redisCommandHook struct {
	commands    metric.Int64Counter
	latency     metric.Float64Histogram
	abuseLookup metric.Int64Counter
}

func newRedisCommandHook(meter metric.Meter, poolStats func() *redis.PoolStats) (*redisCommandHook, error) {
	commands, err := meter.Int64Counter("redis.command.total",
		metric.WithDescription("Redis commands by purpose, command and status"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("redis.command.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Redis round trip latency"))
	if err != nil {
		return nil, err
	}
	abuseLookup, err := meter.Int64Counter("redis.abuse_guard.lookups",
		metric.WithDescription("Abuse guard state reads by whether failure state existed"))
	if err != nil {
		return nil, err
	}
	saturation, err := meter.Float64ObservableGauge("redis.pool.saturation",
		metric.WithUnit("1"),
		metric.WithDescription("Share of pooled connections in use"))
	if err != nil {
		return nil, err
	}
	if poolStats != nil {
		_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			if stats := poolStats(); stats != nil && stats.TotalConns > 0 {
				used := float64(stats.TotalConns-stats.IdleConns) / float64(stats.TotalConns)
				o.ObserveFloat64(saturation, min(max(used, 0), 1))
			}
			return nil
		}, saturation)
		if err != nil {
			return nil, err
		}
	}
	return &redisCommandHook{commands: commands, latency: latency, abuseLookup: abuseLookup}, nil
}

func (h *redisCommandHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *redisCommandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		purpose := redisKeyPurpose(cmd)
		h.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("purpose", purpose),
			attribute.String("status", redisCommandStatus(err)),
		))
		h.observe(ctx, cmd, purpose)
		return err
	}
}

func (h *redisCommandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		purpose := redisPurposeOther
		if len(cmds) > 0 {
			purpose = redisKeyPurpose(cmds[0])
		}
		h.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("purpose", purpose),
			attribute.String("status", redisCommandStatus(err)),
		))
		for _, cmd := range cmds {
			h.observe(ctx, cmd, redisKeyPurpose(cmd))
		}
		return err
	}
}

func (h *redisCommandHook) observe(ctx context.Context, cmd redis.Cmder, purpose string) {
	h.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.String("command", strings.ToLower(cmd.Name())),
		attribute.String("status", redisCommandStatus(cmd.Err())),
	))
	if purpose != redisPurposeAbuseGuard {
		return
	}
	if found, ok := abuseStateFound(cmd); ok {
		outcome := "empty"
		if found {
			outcome = "found"
		}
		h.abuseLookup.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func redisCommandStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, redis.Nil):
		return "miss"
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(strings.ToLower(err.Error()), "timeout"):
		return "timeout"
	default:
		return "error"
	}
}

// redisKeyPurpose classifies a command by the first key it touches.
// Scripts carry their keys after the sha/body and the key count.
func redisKeyPurpose(cmd redis.Cmder) string {
	args := cmd.Args()
	keyAt := 1
	switch strings.ToLower(cmd.Name()) {
	case "eval", "evalsha", "eval_ro", "evalsha_ro":
		keyAt = 3
	}
	if len(args) <= keyAt {
		return redisPurposeOther
	}
	key, ok := args[keyAt].(string)
	if !ok {
		return redisPurposeOther
	}
	for _, segment := range strings.Split(key, ":") {
		switch segment {
		case "abuse":
			return redisPurposeAbuseGuard
		case "rl":
			return redisPurposeRateLimit
		}
	}
	return redisPurposeOther
}

func abuseStateFound(cmd redis.Cmder) (found bool, ok bool) {
	slice, isSlice := cmd.(*redis.SliceCmd)
	if !isSlice || slice.Err() != nil {
		return false, false
	}
	for _, v := range slice.Val() {
		if v != nil {
			return true, true
		}
	}
	return false, true
}
