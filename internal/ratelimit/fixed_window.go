package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RedisFixedWindow counts requests per subject in fixed windows. The first
// request of a window starts its expiry, so windows are aligned per subject.
type RedisFixedWindow struct {
	client    redis.UniversalClient
	limit     int64
	window    time.Duration
	keyPrefix string
	script    *redis.Script
}

func NewRedisFixedWindow(client redis.UniversalClient, limit int, window time.Duration, keyPrefix string) (*RedisFixedWindow, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if window < time.Millisecond {
		return nil, fmt.Errorf("window must be at least 1ms")
	}

	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "imgopt:ratelimit"
	}

	return &RedisFixedWindow{
		client:    client,
		limit:     int64(limit),
		window:    window,
		keyPrefix: keyPrefix,
		script: redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`),
	}, nil
}

func (l *RedisFixedWindow) Allow(ctx context.Context, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	key := fmt.Sprintf("%s:%s", l.keyPrefix, subject)
	raw, err := l.script.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run fixed window script: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("invalid fixed window response")
	}

	count, err := toInt64(values[0])
	if err != nil {
		return Decision{}, fmt.Errorf("parse count value: %w", err)
	}
	ttlMS, err := toInt64(values[1])
	if err != nil {
		return Decision{}, fmt.Errorf("parse ttl value: %w", err)
	}

	return decide(l.limit, count, ttlMS), nil
}

func decide(limit, count, ttlMS int64) Decision {
	if count <= limit {
		return Decision{Allowed: true, Remaining: limit - count}
	}
	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: time.Duration(max(ttlMS, 1)) * time.Millisecond,
	}
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
