package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/gammarips/tool-service/pkg/middleware"
	"github.com/redis/go-redis/v9"
)

// The check runs before INCR so a rejected call never raises the window count.
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
  return {0, current}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIREAT", KEYS[1], ARGV[2])
end
return {1, current}
`)

// RedisWindowStore keeps rate-limit windows in Redis so every replica shares them.
type RedisWindowStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisWindowStore(client redis.UniversalClient, prefix string) *RedisWindowStore {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "toolsvc:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisWindowStore{
		client: client,
		prefix: trimmedPrefix,
	}
}

// Key returns the Redis key for one subject in one window.
func (r *RedisWindowStore) Key(scope, subject string, w middleware.Window) string {
	return fmt.Sprintf("%s:%s:%s:%d", r.prefix, scope, subject, w.Start.Unix())
}

// Consume implements WindowStore.
func (r *RedisWindowStore) Consume(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	w middleware.Window,
) (bool, error) {
	key := r.Key(scope, subject, w)
	// Keys outlive their window by one second.
	expireAtMs := w.End.UnixMilli() + 1000

	rawResult, err := fixedWindowScript.Run(ctx, r.client, []string{key}, limit, expireAtMs).Result()
	if err != nil {
		return false, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	admitted, ok := values[0].(int64)
	if !ok {
		return false, fmt.Errorf("unexpected redis limiter admit type: %T", values[0])
	}
	return admitted == 1, nil
}
