package observability

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRedisKeyPurpose(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cmd  redis.Cmder
		want string
	}{
		{redis.NewSliceCmd(ctx, "hmget", "bmc:abuse:login:id:alice", "last_failure_ms"), redisPurposeAbuseGuard},
		{redis.NewCmd(ctx, "evalsha", "deadbeef", 1, "bmc:rl:auth:ip:1.2.3.4", 60000), redisPurposeRateLimit},
		{redis.NewStatusCmd(ctx, "ping"), redisPurposeOther},
		{redis.NewStringCmd(ctx, "get", "session"), redisPurposeOther},
	}
	for _, tc := range cases {
		if got := redisKeyPurpose(tc.cmd); got != tc.want {
			t.Fatalf("%v: got %s want %s", tc.cmd.Args(), got, tc.want)
		}
	}
}

func TestRedisCommandHookRecordsPurposeAndAbuseLookups(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })
	hook, err := newRedisCommandHook(provider.Meter("redis-test"), client.PoolStats)
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	client.AddHook(hook)

	if err := client.HSet(ctx, "bmc:abuse:login:id:alice", "last_failure_ms", 1).Err(); err != nil {
		t.Fatalf("hset: %v", err)
	}
	pipe := client.Pipeline()
	pipe.HMGet(ctx, "bmc:abuse:login:id:alice", "last_failure_ms")
	pipe.HMGet(ctx, "bmc:abuse:login:ip:10.0.0.1", "last_failure_ms")
	if _, err := pipe.Exec(ctx); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if err := client.Incr(ctx, "bmc:rl:api:ip:10.0.0.1").Err(); err != nil {
		t.Fatalf("incr: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	commands := map[string]int64{}
	lookups := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch m.Name {
				case "redis.command.total":
					purpose, _ := dp.Attributes.Value(attribute.Key("purpose"))
					commands[purpose.AsString()] += dp.Value
				case "redis.abuse_guard.lookups":
					outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
					lookups[outcome.AsString()] += dp.Value
				}
			}
		}
	}
	if commands[redisPurposeAbuseGuard] != 3 || commands[redisPurposeRateLimit] != 1 {
		t.Fatalf("unexpected command counts: %v", commands)
	}
	if lookups["found"] != 1 || lookups["empty"] != 1 {
		t.Fatalf("unexpected abuse lookups: %v", lookups)
	}
}

func TestInstrumentRedisClientNilIsNoop(t *testing.T) {
	InstrumentRedisClient(nil, nil)
}
