package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/pixora-labs/pixora/internal/config"
)

// Tier is the subscription level supplied by the identity provider.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// ParseTier maps an identity claim to a Tier. Unknown values report false.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierFree, TierPremium, TierEnterprise:
		return Tier(s), true
	}
	return TierFree, false
}

// Kind selects which allowance a request draws from.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindUpscale  Kind = "upscale"
)

// Limits is a tier's full daily allowance.
type Limits struct {
	Generations int `json:"generations"`
	Upscales    int `json:"upscales"`
}

func (l Limits) For(kind Kind) int {
	if kind == KindUpscale {
		return l.Upscales
	}
	return l.Generations
}

// TierTable maps every tier to its daily limits.
type TierTable map[Tier]Limits

// NewTierTable builds the table from configuration.
func NewTierTable(tiers map[string]config.TierLimits) TierTable {
	table := make(TierTable, len(tiers))
	for name, l := range tiers {
		table[Tier(name)] = Limits{Generations: l.Generations, Upscales: l.Upscales}
	}
	return table
}

// Limits returns the allowance for tier, falling back to the free tier.
func (t TierTable) Limits(tier Tier) Limits {
	if l, ok := t[tier]; ok {
		return l
	}
	return t[TierFree]
}

// Record matches the quota_records table schema.
type Record struct {
	UserID           string    `json:"user_id"`
	Tier             Tier      `json:"tier"`
	GenerationsLeft  int       `json:"generations_left"`
	UpscalesLeft     int       `json:"upscales_left"`
	TotalGenerations int64     `json:"total_generations"`
	TotalUpscales    int64     `json:"total_upscales"`
	LastResetAt      time.Time `json:"last_reset_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Left returns the remaining allowance for kind.
func (r *Record) Left(kind Kind) int {
	if kind == KindUpscale {
		return r.UpscalesLeft
	}
	return r.GenerationsLeft
}

// Status is the API response for the caller's quota.
type Status struct {
	Tier             Tier      `json:"tier"`
	GenerationsLeft  int       `json:"generations_left"`
	UpscalesLeft     int       `json:"upscales_left"`
	Limits           Limits    `json:"limits"`
	TotalGenerations int64     `json:"total_generations"`
	TotalUpscales    int64     `json:"total_upscales"`
	LastResetAt      time.Time `json:"last_reset_at"`
	NextResetAt      time.Time `json:"next_reset_at"`
	ResetInSeconds   int64     `json:"reset_in_seconds"`
}

// ErrRecordNotFound is returned by Consume for a user that was never loaded.
var ErrRecordNotFound = errors.New("quota record not found")

// ExceededError reports that the relevant counter is already zero.
type ExceededError struct {
	Kind Kind
	Tier Tier
}

func (e *ExceededError) Error() string {
	if e.Kind == KindUpscale {
		return "You have reached your upscale limit. Please upgrade to continue."
	}
	return "You've reached your daily generation limit. Upgrade to premium for more!"
}

// PersistenceError wraps a storage failure. The quota state it guards must
// be treated as unknown rather than zero.
type PersistenceError struct {
	Op     string
	UserID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("quota %s for %q: %v", e.Op, e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op, userID string, err error) error {
	return &PersistenceError{Op: op, UserID: userID, Err: err}
}
