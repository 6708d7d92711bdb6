// Package redisstore implements the CoordinationStore against Redis,
// using Lua scripts so each admission decision is one atomic round trip
// (§4.1, §9). It is grounded on the EVAL/EVALSHA pattern used throughout
// the retrieved examples for token-bucket and rate-limit scripts.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"llmratelimit/internal/ratelimit/core"
)

// admitScript evicts expired events from all three dimensions, checks
// input -> output -> request order, and only if every dimension has
// headroom inserts one event per dimension. KEYS 1-3 are the sorted-set
// keys (input, output, request); KEYS 4-6 are their companion cost
// hashes. ARGV is now_ms, window_ms, cost_in, cost_out, cost_req,
// limit_in, limit_out, limit_req, event_id, ttl_seconds.
const admitScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cutoff = now - window
local costs = {tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])}
local limits = {tonumber(ARGV[6]), tonumber(ARGV[7]), tonumber(ARGV[8])}
local event_id = ARGV[9]
local ttl = tonumber(ARGV[10])

local sums = {}
local oldest = {}
for i = 1, 3 do
  local zkey = KEYS[i]
  local hkey = KEYS[i + 3]
  local expired = redis.call("ZRANGEBYSCORE", zkey, "-inf", cutoff)
  if #expired > 0 then
    redis.call("ZREMRANGEBYSCORE", zkey, "-inf", cutoff)
    redis.call("HDEL", hkey, unpack(expired))
  end
  local members = redis.call("ZRANGE", zkey, 0, -1)
  local sum = 0
  for _, m in ipairs(members) do
    local c = redis.call("HGET", hkey, m)
    if c then sum = sum + tonumber(c) end
  end
  sums[i] = sum
  if #members > 0 then
    local withscores = redis.call("ZRANGE", zkey, 0, 0, "WITHSCORES")
    oldest[i] = tonumber(withscores[2])
  else
    oldest[i] = -1
  end
end

for i = 1, 3 do
  if sums[i] + costs[i] > limits[i] then
    return {0, i, oldest[i]}
  end
end

for i = 1, 3 do
  local zkey = KEYS[i]
  local hkey = KEYS[i + 3]
  redis.call("ZADD", zkey, now, event_id)
  redis.call("HSET", hkey, event_id, costs[i])
  redis.call("EXPIRE", zkey, ttl)
  redis.call("EXPIRE", hkey, ttl)
end
return {1, 0, -1}
`

// reconcileScript rewrites the cost hash entry for event_id only if it is
// still present in the sorted set, i.e. has not already expired out of
// the window (§4.1 "a no-op if the event has already expired").
const reconcileScript = `
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if not score then
  return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
return 1
`

// usageScript evicts and sums all three dimensions without inserting
// anything, for the read-only usage endpoint.
const usageScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cutoff = now - window
local sums = {}
for i = 1, 3 do
  local zkey = KEYS[i]
  local hkey = KEYS[i + 3]
  local expired = redis.call("ZRANGEBYSCORE", zkey, "-inf", cutoff)
  if #expired > 0 then
    redis.call("ZREMRANGEBYSCORE", zkey, "-inf", cutoff)
    redis.call("HDEL", hkey, unpack(expired))
  end
  local members = redis.call("ZRANGE", zkey, 0, -1)
  local sum = 0
  for _, m in ipairs(members) do
    local c = redis.call("HGET", hkey, m)
    if c then sum = sum + tonumber(c) end
  end
  sums[i] = sum
end
return {sums[1], sums[2], sums[3]}
`

var (
	scriptAdmit    = redis.NewScript(admitScript)
	scriptReconcile = redis.NewScript(reconcileScript)
	scriptUsage    = redis.NewScript(usageScript)
)

// Store implements core.CoordinationStore against a Redis deployment
// shared by every node, making it the fleet-wide source of truth §3
// requires.
type Store struct {
	client *redis.Client
	keys   core.KeyBuilder
}

// NewStore constructs a Store over an already-configured go-redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) dimensionKeys(apiKey string) []string {
	return []string{
		s.keys.SortedSetKey(apiKey, core.DimensionInputTPM),
		s.keys.SortedSetKey(apiKey, core.DimensionOutputTPM),
		s.keys.SortedSetKey(apiKey, core.DimensionRPM),
		s.keys.CostKey(apiKey, core.DimensionInputTPM),
		s.keys.CostKey(apiKey, core.DimensionOutputTPM),
		s.keys.CostKey(apiKey, core.DimensionRPM),
	}
}

var dimensionByIndex = [...]core.Dimension{
	0: "",
	1: core.DimensionInputTPM,
	2: core.DimensionOutputTPM,
	3: core.DimensionRPM,
}

// AdmitBatch implements core.CoordinationStore.
func (s *Store) AdmitBatch(ctx context.Context, p core.AdmitParams) (core.AdmitResult, error) {
	ttlSeconds := int64(p.Window.Seconds()) + 1
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	res, err := scriptAdmit.Run(ctx, s.client, s.dimensionKeys(p.APIKey),
		p.Now.UnixMilli(),
		p.Window.Milliseconds(),
		p.CostIn,
		p.CostOut,
		int64(1),
		p.Config.InputTPM,
		p.Config.OutputTPM,
		p.Config.RPM,
		p.EventID,
		ttlSeconds,
	).Result()
	if err != nil {
		return core.AdmitResult{}, fmt.Errorf("admit script: %w", err)
	}
	return parseAdmitResult(res)
}

func parseAdmitResult(res interface{}) (core.AdmitResult, error) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return core.AdmitResult{}, fmt.Errorf("admit script: unexpected return shape %T", res)
	}
	admitted, err := toInt64(values[0])
	if err != nil {
		return core.AdmitResult{}, err
	}
	if admitted == 1 {
		return core.AdmitResult{Admitted: true}, nil
	}
	dimIdx, err := toInt64(values[1])
	if err != nil {
		return core.AdmitResult{}, err
	}
	oldestMs, err := toInt64(values[2])
	if err != nil {
		return core.AdmitResult{}, err
	}
	var oldest time.Time
	if oldestMs >= 0 {
		oldest = time.UnixMilli(oldestMs)
	}
	dim := core.Dimension("")
	if dimIdx >= 1 && int(dimIdx) < len(dimensionByIndex) {
		dim = dimensionByIndex[dimIdx]
	}
	return core.AdmitResult{Admitted: false, Dimension: dim, OldestSurvivor: oldest}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("admit script: unexpected numeric type %T", v)
	}
}

// Reconcile implements core.CoordinationStore.
func (s *Store) Reconcile(ctx context.Context, p core.ReconcileParams) error {
	keys := []string{
		s.keys.SortedSetKey(p.APIKey, core.DimensionOutputTPM),
		s.keys.CostKey(p.APIKey, core.DimensionOutputTPM),
	}
	_, err := scriptReconcile.Run(ctx, s.client, keys, p.EventID, p.NewCost).Result()
	if err != nil {
		return fmt.Errorf("reconcile script: %w", err)
	}
	return nil
}

// Usage implements core.CoordinationStore.
func (s *Store) Usage(ctx context.Context, apiKey string, now time.Time, window time.Duration) (core.Usage, error) {
	res, err := scriptUsage.Run(ctx, s.client, s.dimensionKeys(apiKey), now.UnixMilli(), window.Milliseconds()).Result()
	if err != nil {
		return core.Usage{}, fmt.Errorf("usage script: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return core.Usage{}, fmt.Errorf("usage script: unexpected return shape %T", res)
	}
	in, err := toInt64(values[0])
	if err != nil {
		return core.Usage{}, err
	}
	out, err := toInt64(values[1])
	if err != nil {
		return core.Usage{}, err
	}
	req, err := toInt64(values[2])
	if err != nil {
		return core.Usage{}, err
	}
	return core.Usage{
		InputTokensUsed:  in,
		OutputTokensUsed: out,
		RequestsUsed:     req,
		WindowSeconds:    int64(window.Seconds()),
	}, nil
}

// Healthy implements core.CoordinationStore with a PING.
func (s *Store) Healthy(ctx context.Context) bool {
	if s == nil || s.client == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	return s.client.Ping(pingCtx).Err() == nil
}
