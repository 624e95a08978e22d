package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheTTL = 24 * time.Hour
	// cacheSize bounds the cached window to the largest fixed view.
	cacheSize = TrendSize
	// pendingTTL bounds how long a crashed writer can block cache fills.
	pendingTTL = time.Minute
)

var errStaleFill = errors.New("history: log changed during cache fill")

// clearPending clears one pending mark without going below zero, so a mark
// that already expired cannot leave a negative count behind.
var clearPending = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// CachedLog keeps each user's most recent entries in a Redis list in front
// of a durable Log. The list is only extended once it exists, so a cached
// list always holds the true tail of the log.
//
// A fill races with concurrent appends: the window it read may miss an entry
// whose push found no list, or already hold one whose push is still to come.
// Appends therefore mark themselves pending for their whole duration and bump
// a per-user version when done; a fill only stores its window when no append
// is pending and the version is the one it saw before reading.
type CachedLog struct {
	next Log
	rdb  redis.UniversalClient
}

// NewCachedLog wraps next with a Redis cache.
func NewCachedLog(next Log, rdb redis.UniversalClient) *CachedLog {
	return &CachedLog{next: next, rdb: rdb}
}

func cacheKey(userID string) string {
	return "history:recent:" + userID
}

func versionKey(userID string) string {
	return "history:version:" + userID
}

func pendingKey(userID string) string {
	return "history:pending:" + userID
}

func (c *CachedLog) Append(ctx context.Context, e *Entry) error {
	if c.beginAppend(ctx, e.UserID) {
		defer c.endAppend(context.WithoutCancel(ctx), e.UserID)
	}

	if err := c.next.Append(ctx, e); err != nil {
		return err
	}

	key := cacheKey(e.UserID)
	data, err := json.Marshal(e)
	if err != nil {
		slog.Warn("history: encoding cache entry failed, dropping key", "user_id", e.UserID, "error", err)
		c.rdb.Del(ctx, key)
		return nil
	}

	pipe := c.rdb.TxPipeline()
	pipe.RPushX(ctx, key, data)
	pipe.LTrim(ctx, key, -cacheSize, -1)
	pipe.Incr(ctx, versionKey(e.UserID))
	pipe.Expire(ctx, versionKey(e.UserID), cacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("history: cache append failed, dropping key", "user_id", e.UserID, "error", err)
		c.rdb.Del(ctx, key)
	}
	return nil
}

// beginAppend marks an append in flight. It reports whether the mark was
// set and must be cleared.
func (c *CachedLog) beginAppend(ctx context.Context, userID string) bool {
	key := pendingKey(userID)
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, pendingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Debug("history: marking append pending failed", "user_id", userID, "error", err)
		return false
	}
	return true
}

func (c *CachedLog) Recent(ctx context.Context, userID string, n int, order Order) ([]Entry, error) {
	if n <= 0 || n > cacheSize {
		return c.next.Recent(ctx, userID, n, order)
	}

	key := cacheKey(userID)
	raw, err := c.rdb.LRange(ctx, key, int64(-n), -1).Result()
	if err != nil {
		slog.Warn("history: cache read failed", "user_id", userID, "error", err)
		return c.next.Recent(ctx, userID, n, order)
	}

	if len(raw) == 0 {
		return c.fill(ctx, userID, n, order)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			slog.Warn("history: corrupt cache entry, refilling", "user_id", userID, "error", err)
			c.rdb.Del(ctx, key)
			return c.fill(ctx, userID, n, order)
		}
		entries = append(entries, e)
	}

	if order == NewestFirst {
		reverse(entries)
	}
	return entries, nil
}

func (c *CachedLog) endAppend(ctx context.Context, userID string) {
	if err := clearPending.Run(ctx, c.rdb, []string{pendingKey(userID)}).Err(); err != nil {
		slog.Warn("history: clearing append mark failed", "user_id", userID, "error", err)
	}
}

// fill loads the cached window from the durable log and stores it unless an
// append overlapped the read. Redis has no empty lists, so users without
// history always read through.
func (c *CachedLog) fill(ctx context.Context, userID string, n int, order Order) ([]Entry, error) {
	version, verr := c.rdb.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(verr, redis.Nil) {
		verr = nil
	}

	window, err := c.next.Recent(ctx, userID, cacheSize, OldestFirst)
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(window))
	for i := range window {
		data, err := json.Marshal(&window[i])
		if err != nil {
			return nil, err
		}
		values = append(values, data)
	}

	if verr == nil && len(values) > 0 {
		err := c.store(ctx, userID, version, values)
		switch {
		case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
			slog.Debug("history: skipping stale cache fill", "user_id", userID)
		case err != nil:
			slog.Warn("history: cache fill failed", "user_id", userID, "error", err)
		}
	}

	if len(window) > n {
		window = window[len(window)-n:]
	}
	if order == NewestFirst {
		reverse(window)
	}
	return window, nil
}

// store replaces the cached list with values in a transaction that aborts if
// an append started or finished since version was read.
func (c *CachedLog) store(ctx context.Context, userID string, version int64, values []any) error {
	key := cacheKey(userID)
	vkey, pkey := versionKey(userID), pendingKey(userID)

	return c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		pending, err := tx.Get(ctx, pkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version || pending > 0 {
			return errStaleFill
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.RPush(ctx, key, values...)
			pipe.Expire(ctx, key, cacheTTL)
			return nil
		})
		return err
	}, vkey, pkey)
}
