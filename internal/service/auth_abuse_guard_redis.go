package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisAuthAbuseBumpScript = redis.NewScript(`
local now_ms = tonumber(ARGV[1])
local base_ms = tonumber(ARGV[2])
local multiplier = tonumber(ARGV[3])
local max_ms = tonumber(ARGV[4])
local reset_ms = tonumber(ARGV[5])
local free_attempts = tonumber(ARGV[6])

local key = KEYS[1]
local fail_count = tonumber(redis.call("HGET", key, "fail_count") or "0")
local last_failure_ms = tonumber(redis.call("HGET", key, "last_failure_ms") or "0")

if last_failure_ms == 0 or (now_ms - last_failure_ms) > reset_ms then
  fail_count = 0
end

fail_count = fail_count + 1
local delay = 0
if fail_count > free_attempts then
  delay = math.floor(base_ms * (multiplier ^ (fail_count - free_attempts - 1)))
end
if delay > max_ms then
  delay = max_ms
end
if delay > 0 and delay < 1 then
  delay = 1
end

local cooldown_until_ms = now_ms + delay
redis.call("HSET", key, "fail_count", tostring(fail_count), "last_failure_ms", tostring(now_ms), "cooldown_until_ms", tostring(cooldown_until_ms))
local ttl_ms = reset_ms + delay + 60000
redis.call("PEXPIRE", key, ttl_ms)
return delay
`)

type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "bmc:auth_abuse"
	}
	return &RedisAuthAbuseGuard{
		client: client,
		prefix: prefix,
		policy: normalizeAuthAbusePolicy(policy),
	}
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	dims := abuseDimensions(identity, ip)
	pipe := g.client.Pipeline()
	cmds := make([]*redis.SliceCmd, 0, len(dims))
	for _, d := range dims {
		cmds = append(cmds, pipe.HMGet(ctx, g.stateKey(scope, d), "last_failure_ms", "cooldown_until_ms"))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, err
	}
	nowMS := time.Now().UnixMilli()
	var longest time.Duration
	for _, cmd := range cmds {
		remaining, err := g.remaining(cmd.Val(), nowMS)
		if err != nil {
			return 0, err
		}
		longest = max(longest, remaining)
	}
	return longest, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	nowMS := time.Now().UnixMilli()
	var longest time.Duration
	for _, d := range abuseDimensions(identity, ip) {
		delay, err := g.bumpKey(ctx, g.stateKey(scope, d), nowMS)
		if err != nil {
			return 0, err
		}
		longest = max(longest, delay)
	}
	return longest, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	dims := abuseDimensions(identity, ip)
	return g.client.Del(ctx, g.stateKey(scope, dims[0]), g.stateKey(scope, dims[1])).Err()
}

func (g *RedisAuthAbuseGuard) bumpKey(ctx context.Context, key string, nowMS int64) (time.Duration, error) {
	result, err := redisAuthAbuseBumpScript.Run(
		ctx,
		g.client,
		[]string{key},
		nowMS,
		g.policy.BaseDelay.Milliseconds(),
		g.policy.Multiplier,
		g.policy.MaxDelay.Milliseconds(),
		g.policy.ResetWindow.Milliseconds(),
		g.policy.FreeAttempts,
	).Result()
	if err != nil {
		return 0, err
	}
	delayMS, err := parseAuthAbuseRedisInt64(result)
	if err != nil {
		return 0, err
	}
	return time.Duration(max(delayMS, int64(0))) * time.Millisecond, nil
}

func (g *RedisAuthAbuseGuard) remaining(values []any, nowMS int64) (time.Duration, error) {
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return 0, nil
	}
	lastFailureMS, err := parseAuthAbuseRedisInt64(values[0])
	if err != nil {
		return 0, err
	}
	cooldownUntilMS, err := parseAuthAbuseRedisInt64(values[1])
	if err != nil {
		return 0, err
	}
	if nowMS-lastFailureMS > g.policy.ResetWindow.Milliseconds() || cooldownUntilMS <= nowMS {
		return 0, nil
	}
	return time.Duration(cooldownUntilMS-nowMS) * time.Millisecond, nil
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, d abuseDimension) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, d.name, hashIdentity(d.value))
}

// hashIdentity keeps raw usernames and addresses out of redis keys.
func hashIdentity(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:16])
}

func parseAuthAbuseRedisInt64(v any) (int64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseInt(n, 10, 64)
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("redis response overflows int64")
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected redis response type %T", v)
	}
}
