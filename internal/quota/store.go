package quota

import (
	"context"
)

// Store is the durable quota record collaborator. Implementations must make
// Consume atomic per user: two concurrent calls against a single remaining
// unit never both succeed.
type Store interface {
	// Load returns the user's record, creating one at the full allowance of
	// tier if none exists.
	Load(ctx context.Context, userID string, tier Tier) (*Record, error)

	// Consume decrements one unit of kind or fails with *ExceededError
	// without touching the record.
	Consume(ctx context.Context, userID string, kind Kind) (*Record, error)

	// Reset restores both counters to the current tier's full allowance.
	Reset(ctx context.Context, userID string) (*Record, error)

	// ChangeTier updates the tier without granting allowance. Counters above
	// the new tier's limits are clamped.
	ChangeTier(ctx context.Context, userID string, tier Tier) (*Record, error)
}
