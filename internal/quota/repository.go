package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `user_id, tier, generations_left, upscales_left,
	total_generations, total_upscales, last_reset_at, updated_at`

// Repository is the PostgreSQL Store. Consume relies on a conditional
// UPDATE so the row lock serializes concurrent decrements.
type Repository struct {
	pool  *pgxpool.Pool
	tiers TierTable
	now   func() time.Time
}

// NewRepository creates a new quota Repository.
func NewRepository(pool *pgxpool.Pool, tiers TierTable) *Repository {
	return &Repository{pool: pool, tiers: tiers, now: time.Now}
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var tier string
	err := row.Scan(&r.UserID, &tier, &r.GenerationsLeft, &r.UpscalesLeft,
		&r.TotalGenerations, &r.TotalUpscales, &r.LastResetAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Tier = Tier(tier)
	return &r, nil
}

// Load returns the user's record, creating one at full allowance if missing.
func (r *Repository) Load(ctx context.Context, userID string, tier Tier) (*Record, error) {
	limits := r.tiers.Limits(tier)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO quota_records (user_id, tier, generations_left, upscales_left, last_reset_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, string(tier), limits.Generations, limits.Upscales, r.now())
	if err != nil {
		return nil, persistErr("load", userID, fmt.Errorf("ensuring quota record: %w", err))
	}

	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM quota_records WHERE user_id = $1`, userID))
	if err != nil {
		return nil, persistErr("load", userID, fmt.Errorf("fetching quota record: %w", err))
	}
	return rec, nil
}

var consumeQueries = map[Kind]string{
	KindGenerate: `UPDATE quota_records
		 SET generations_left = generations_left - 1,
		     total_generations = total_generations + 1,
		     updated_at = NOW()
		 WHERE user_id = $1 AND generations_left > 0
		 RETURNING ` + recordColumns,
	KindUpscale: `UPDATE quota_records
		 SET upscales_left = upscales_left - 1,
		     total_upscales = total_upscales + 1,
		     updated_at = NOW()
		 WHERE user_id = $1 AND upscales_left > 0
		 RETURNING ` + recordColumns,
}

// Consume decrements one unit of kind.
func (r *Repository) Consume(ctx context.Context, userID string, kind Kind) (*Record, error) {
	query, ok := consumeQueries[kind]
	if !ok {
		return nil, fmt.Errorf("unknown quota kind %q", kind)
	}

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, userID))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, persistErr("consume", userID, fmt.Errorf("decrementing quota: %w", err))
	}

	// No row matched: either the user is unknown or the counter is zero.
	current, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM quota_records WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, persistErr("consume", userID, fmt.Errorf("fetching quota record: %w", err))
	}
	return nil, &ExceededError{Kind: kind, Tier: current.Tier}
}

// Reset restores the full allowance of the record's current tier.
func (r *Repository) Reset(ctx context.Context, userID string) (*Record, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, persistErr("reset", userID, fmt.Errorf("beginning tx: %w", err))
	}
	defer tx.Rollback(ctx)

	var tier string
	err = tx.QueryRow(ctx,
		`SELECT tier FROM quota_records WHERE user_id = $1 FOR UPDATE`, userID).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, persistErr("reset", userID, fmt.Errorf("locking quota record: %w", err))
	}

	limits := r.tiers.Limits(Tier(tier))
	rec, err := scanRecord(tx.QueryRow(ctx,
		`UPDATE quota_records
		 SET generations_left = $2,
		     upscales_left = $3,
		     last_reset_at = $4,
		     updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING `+recordColumns,
		userID, limits.Generations, limits.Upscales, r.now()))
	if err != nil {
		return nil, persistErr("reset", userID, fmt.Errorf("resetting quota: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, persistErr("reset", userID, fmt.Errorf("committing reset: %w", err))
	}
	return rec, nil
}

// ChangeTier updates the tier and clamps counters to the new limits.
func (r *Repository) ChangeTier(ctx context.Context, userID string, tier Tier) (*Record, error) {
	limits := r.tiers.Limits(tier)
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`UPDATE quota_records
		 SET tier = $2,
		     generations_left = LEAST(generations_left, $3),
		     upscales_left = LEAST(upscales_left, $4),
		     updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING `+recordColumns,
		userID, string(tier), limits.Generations, limits.Upscales))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, persistErr("change tier", userID, fmt.Errorf("updating tier: %w", err))
	}
	return rec, nil
}
