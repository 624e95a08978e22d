package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordKeyPrefix = "quota:record:"

// Every mutation runs as a single script so the read-check-write sequence is
// atomic on the Redis side. Scripts answer -2 for an unknown user and -1 for
// an exhausted counter; otherwise they return the full hash.
var (
	loadScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'tier', ARGV[1], 'gen', ARGV[2], 'ups', ARGV[3],
    'tgen', '0', 'tups', '0', 'reset', ARGV[4], 'updated', ARGV[4])
end
return redis.call('HGETALL', KEYS[1])
`)

	consumeScript = redis.NewScript(`
local left = redis.call('HGET', KEYS[1], ARGV[1])
if not left then return -2 end
if tonumber(left) <= 0 then return -1 end
redis.call('HINCRBY', KEYS[1], ARGV[1], '-1')
redis.call('HINCRBY', KEYS[1], ARGV[2], '1')
redis.call('HSET', KEYS[1], 'updated', ARGV[3])
return redis.call('HGETALL', KEYS[1])
`)

	resetScript = redis.NewScript(`
local tier = redis.call('HGET', KEYS[1], 'tier')
if not tier then return -2 end
local gen, ups = ARGV[2], ARGV[3]
for i = 4, #ARGV, 3 do
  if ARGV[i] == tier then
    gen, ups = ARGV[i + 1], ARGV[i + 2]
  end
end
redis.call('HSET', KEYS[1], 'gen', gen, 'ups', ups, 'reset', ARGV[1], 'updated', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

	changeTierScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -2 end
local gen = tonumber(redis.call('HGET', KEYS[1], 'gen'))
local ups = tonumber(redis.call('HGET', KEYS[1], 'ups'))
redis.call('HSET', KEYS[1], 'tier', ARGV[1],
  'gen', tostring(math.min(gen, tonumber(ARGV[2]))),
  'ups', tostring(math.min(ups, tonumber(ARGV[3]))),
  'updated', ARGV[4])
return redis.call('HGETALL', KEYS[1])
`)
)

// RedisStore keeps quota records in Redis hashes. It is meant for
// deployments that run Redis with persistence enabled.
type RedisStore struct {
	rdb   redis.Cmdable
	tiers TierTable
	now   func() time.Time
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(rdb redis.Cmdable, tiers TierTable) *RedisStore {
	return &RedisStore{rdb: rdb, tiers: tiers, now: time.Now}
}

func recordKey(userID string) string {
	return recordKeyPrefix + userID
}

func (s *RedisStore) nowMs() string {
	return strconv.FormatInt(s.now().UnixMilli(), 10)
}

func (s *RedisStore) Load(ctx context.Context, userID string, tier Tier) (*Record, error) {
	limits := s.tiers.Limits(tier)
	res, err := loadScript.Run(ctx, s.rdb, []string{recordKey(userID)},
		string(tier), limits.Generations, limits.Upscales, s.nowMs()).Result()
	if err != nil {
		return nil, persistErr("load", userID, fmt.Errorf("load script: %w", err))
	}
	return s.decode("load", userID, res)
}

func (s *RedisStore) Consume(ctx context.Context, userID string, kind Kind) (*Record, error) {
	field, total := "gen", "tgen"
	if kind == KindUpscale {
		field, total = "ups", "tups"
	}

	res, err := consumeScript.Run(ctx, s.rdb, []string{recordKey(userID)}, field, total, s.nowMs()).Result()
	if err != nil {
		return nil, persistErr("consume", userID, fmt.Errorf("consume script: %w", err))
	}
	if code, ok := res.(int64); ok && code == -1 {
		tier, err := s.rdb.HGet(ctx, recordKey(userID), "tier").Result()
		if err != nil {
			tier = string(TierFree)
		}
		return nil, &ExceededError{Kind: kind, Tier: Tier(tier)}
	}
	return s.decode("consume", userID, res)
}

func (s *RedisStore) Reset(ctx context.Context, userID string) (*Record, error) {
	free := s.tiers.Limits(TierFree)
	args := []any{s.nowMs(), free.Generations, free.Upscales}
	for tier, limits := range s.tiers {
		args = append(args, string(tier), limits.Generations, limits.Upscales)
	}

	res, err := resetScript.Run(ctx, s.rdb, []string{recordKey(userID)}, args...).Result()
	if err != nil {
		return nil, persistErr("reset", userID, fmt.Errorf("reset script: %w", err))
	}
	return s.decode("reset", userID, res)
}

func (s *RedisStore) ChangeTier(ctx context.Context, userID string, tier Tier) (*Record, error) {
	limits := s.tiers.Limits(tier)
	res, err := changeTierScript.Run(ctx, s.rdb, []string{recordKey(userID)},
		string(tier), limits.Generations, limits.Upscales, s.nowMs()).Result()
	if err != nil {
		return nil, persistErr("change tier", userID, fmt.Errorf("change tier script: %w", err))
	}
	return s.decode("change tier", userID, res)
}

func (s *RedisStore) decode(op, userID string, res any) (*Record, error) {
	switch v := res.(type) {
	case int64:
		if v == -2 {
			return nil, ErrRecordNotFound
		}
		return nil, persistErr(op, userID, fmt.Errorf("unexpected script status %d", v))
	case []any:
		return parseRecordHash(userID, v)
	default:
		return nil, persistErr(op, userID, fmt.Errorf("unexpected script reply %T", res))
	}
}

func parseRecordHash(userID string, flat []any) (*Record, error) {
	rec := &Record{UserID: userID}
	for i := 0; i+1 < len(flat); i += 2 {
		field, _ := flat[i].(string)
		value, _ := flat[i+1].(string)

		var err error
		switch field {
		case "tier":
			rec.Tier = Tier(value)
		case "gen":
			rec.GenerationsLeft, err = strconv.Atoi(value)
		case "ups":
			rec.UpscalesLeft, err = strconv.Atoi(value)
		case "tgen":
			rec.TotalGenerations, err = strconv.ParseInt(value, 10, 64)
		case "tups":
			rec.TotalUpscales, err = strconv.ParseInt(value, 10, 64)
		case "reset":
			rec.LastResetAt, err = parseMillis(value)
		case "updated":
			rec.UpdatedAt, err = parseMillis(value)
		}
		if err != nil {
			return nil, persistErr("decode", userID, fmt.Errorf("field %s: %w", field, err))
		}
	}
	return rec, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
