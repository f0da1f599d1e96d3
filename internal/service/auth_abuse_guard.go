package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

type AuthAbuseScope string

// AuthAbuseScopeLogin throttles password logins keyed by username and client IP.
const AuthAbuseScopeLogin AuthAbuseScope = "login"

type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

// AuthAbuseGuard tracks failed attempts per identity and per ip and returns the longer remaining cooldown.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

type NoopAuthAbuseGuard struct{}

func NewNoopAuthAbuseGuard() *NoopAuthAbuseGuard {
	return &NoopAuthAbuseGuard{}
}

func (g *NoopAuthAbuseGuard) Check(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopAuthAbuseGuard) RegisterFailure(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopAuthAbuseGuard) Reset(context.Context, AuthAbuseScope, string, string) error {
	return nil
}

// abuseDimension is one throttled axis of an attempt: "id" or "ip" plus its normalized value.
type abuseDimension struct {
	name  string
	value string
}

func abuseDimensions(identity, ip string) [2]abuseDimension {
	return [2]abuseDimension{
		{name: "id", value: normalizeAuthIdentity(identity)},
		{name: "ip", value: normalizeAuthIP(ip)},
	}
}

type abuseCounter struct {
	failCount     int
	lastFailureAt time.Time
	cooldownUntil time.Time
}

type InMemoryAuthAbuseGuard struct {
	mu      sync.Mutex
	policy  AuthAbusePolicy
	now     func() time.Time
	entries map[string]abuseCounter
}

func NewInMemoryAuthAbuseGuard(policy AuthAbusePolicy) *InMemoryAuthAbuseGuard {
	return &InMemoryAuthAbuseGuard{
		policy:  normalizeAuthAbusePolicy(policy),
		now:     time.Now,
		entries: make(map[string]abuseCounter),
	}
}

func (g *InMemoryAuthAbuseGuard) Check(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	var longest time.Duration
	for _, d := range abuseDimensions(identity, ip) {
		longest = max(longest, g.remainingLocked(now, memoryAbuseKey(scope, d)))
	}
	return longest, nil
}

func (g *InMemoryAuthAbuseGuard) RegisterFailure(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	var longest time.Duration
	for _, d := range abuseDimensions(identity, ip) {
		longest = max(longest, g.bumpLocked(now, memoryAbuseKey(scope, d)))
	}
	return longest, nil
}

func (g *InMemoryAuthAbuseGuard) Reset(_ context.Context, scope AuthAbuseScope, identity, ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, d := range abuseDimensions(identity, ip) {
		delete(g.entries, memoryAbuseKey(scope, d))
	}
	return nil
}

func (g *InMemoryAuthAbuseGuard) bumpLocked(now time.Time, key string) time.Duration {
	c := g.entries[key]
	if c.lastFailureAt.IsZero() || now.Sub(c.lastFailureAt) > g.policy.ResetWindow {
		c.failCount = 0
	}
	c.failCount++
	c.lastFailureAt = now
	delay := abuseDelay(g.policy, c.failCount)
	c.cooldownUntil = now.Add(delay)
	g.entries[key] = c
	return delay
}

func (g *InMemoryAuthAbuseGuard) remainingLocked(now time.Time, key string) time.Duration {
	c, ok := g.entries[key]
	if !ok {
		return 0
	}
	if now.Sub(c.lastFailureAt) > g.policy.ResetWindow {
		delete(g.entries, key)
		return 0
	}
	if !now.Before(c.cooldownUntil) {
		return 0
	}
	return c.cooldownUntil.Sub(now)
}

// abuseDelay is zero for the first FreeAttempts failures, then BaseDelay*Multiplier^n capped at MaxDelay.
func abuseDelay(policy AuthAbusePolicy, failCount int) time.Duration {
	if failCount <= policy.FreeAttempts {
		return 0
	}
	power := math.Pow(policy.Multiplier, float64(failCount-policy.FreeAttempts-1))
	delay := time.Duration(float64(policy.BaseDelay) * power)
	if delay > policy.MaxDelay || delay < 0 {
		return policy.MaxDelay
	}
	return delay
}

func memoryAbuseKey(scope AuthAbuseScope, d abuseDimension) string {
	return string(scope) + ":" + d.name + ":" + d.value
}

func normalizeAuthIdentity(identity string) string {
	v := strings.TrimSpace(strings.ToLower(identity))
	if v == "" {
		return "anonymous"
	}
	return v
}

func normalizeAuthIP(ip string) string {
	v := strings.TrimSpace(strings.ToLower(ip))
	if v == "" {
		return "unknown"
	}
	return v
}

func normalizeAuthAbusePolicy(policy AuthAbusePolicy) AuthAbusePolicy {
	if policy.FreeAttempts < 0 {
		policy.FreeAttempts = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 2 * time.Second
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = 5 * time.Minute
	}
	if policy.ResetWindow <= 0 {
		policy.ResetWindow = 30 * time.Minute
	}
	return policy
}
