package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pixora-labs/pixora/internal/auth"
	"github.com/pixora-labs/pixora/internal/config"
	"github.com/pixora-labs/pixora/internal/metrics"
	inats "github.com/pixora-labs/pixora/internal/nats"
	"github.com/pixora-labs/pixora/internal/schedule"
)

// Reset triggers, recorded in metrics and events.
const (
	TriggerMidnight   = "midnight"
	TriggerMissed     = "missed"
	TriggerTierChange = "tier_change"
	TriggerManual     = "manual"
)

// EventPublisher is the subset of the NATS publisher the quota service uses.
type EventPublisher interface {
	PublishQuotaEvent(ctx context.Context, event inats.QuotaEvent) error
}

// User is the caller as the quota service sees it.
type User struct {
	ID       string
	Tier     Tier
	Location *time.Location
}

// Service owns the quota lifecycle: first-use creation, missed and midnight
// resets, the reserving pre-check and the success-gated commit. All
// mutations for one user are serialized.
type Service struct {
	store      Store
	tiers      TierTable
	defaultLoc *time.Location
	upgradeURL string
	now        func() time.Time
	locks      *keyedMutex
	events     EventPublisher
	resetter   *Resetter

	holdsMu sync.Mutex
	holds   map[holdKey]int
}

// holdKey identifies the units of one kind reserved by in-flight jobs.
type holdKey struct {
	userID string
	kind   Kind
}

// NewService creates a new quota Service.
func NewService(store Store, tiers TierTable, cfg config.QuotaConfig) (*Service, error) {
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading default timezone %q: %w", cfg.DefaultTimezone, err)
	}
	return &Service{
		store:      store,
		tiers:      tiers,
		defaultLoc: loc,
		upgradeURL: cfg.UpgradeURL,
		now:        time.Now,
		locks:      newKeyedMutex(),
		holds:      make(map[holdKey]int),
	}, nil
}

// SetPublisher enables quota event publishing. A nil publisher disables it.
func (s *Service) SetPublisher(p EventPublisher) {
	s.events = p
}

// Tiers returns the tier table in use.
func (s *Service) Tiers() TierTable {
	return s.tiers
}

// UpgradeURL is where quota-exhausted callers are sent.
func (s *Service) UpgradeURL() string {
	return s.upgradeURL
}

// UserFor maps an authenticated identity to a quota User. Unknown tiers fall
// back to free and unknown zones to the configured default.
func (s *Service) UserFor(id auth.Identity) User {
	tier, ok := ParseTier(id.Tier)
	if !ok && id.Tier != "" {
		slog.Warn("quota: unknown tier claim, using free", "user_id", id.ID, "tier", id.Tier)
	}

	loc := s.defaultLoc
	if id.Timezone != "" {
		if l, err := time.LoadLocation(id.Timezone); err == nil {
			loc = l
		} else {
			slog.Debug("quota: unknown timezone claim", "user_id", id.ID, "tz", id.Timezone)
		}
	}

	return User{ID: id.ID, Tier: tier, Location: loc}
}

// Observe loads the user's record, applying a tier change or a missed reset
// before returning it, and makes sure a midnight reset is armed.
func (s *Service) Observe(ctx context.Context, u User) (*Record, error) {
	unlock := s.locks.Lock(u.ID)
	defer unlock()
	return s.observeLocked(ctx, u)
}

func (s *Service) observeLocked(ctx context.Context, u User) (*Record, error) {
	rec, err := s.store.Load(ctx, u.ID, u.Tier)
	if err != nil {
		return nil, err
	}

	switch {
	case rec.Tier != u.Tier:
		if _, err := s.store.ChangeTier(ctx, u.ID, u.Tier); err != nil {
			return nil, err
		}
		s.publish(ctx, inats.QuotaTier, u, "", "", nil)
		rec, err = s.resetLocked(ctx, u, TriggerTierChange)
	case !schedule.SameDay(rec.LastResetAt, s.now(), u.Location):
		rec, err = s.resetLocked(ctx, u, TriggerMissed)
	}
	if err != nil {
		return nil, err
	}

	if s.resetter != nil {
		s.resetter.Track(u)
	}
	return rec, nil
}

// Check reserves one unit of kind for an in-flight job. Units already held
// by the user's other jobs count as spent, so concurrent checks can never
// promise more than the record holds. A successful Check must be followed
// by exactly one Commit or Release.
func (s *Service) Check(ctx context.Context, u User, kind Kind) (*Record, error) {
	unlock := s.locks.Lock(u.ID)
	defer unlock()

	rec, err := s.observeLocked(ctx, u)
	if err != nil {
		return nil, err
	}

	key := holdKey{userID: u.ID, kind: kind}
	s.holdsMu.Lock()
	held := s.holds[key]
	if rec.Left(kind)-held <= 0 {
		s.holdsMu.Unlock()
		metrics.QuotaRejectedTotal.WithLabelValues(string(kind), string(rec.Tier)).Inc()
		s.publish(ctx, inats.QuotaRejected, u, kind, "", rec)
		return rec, &ExceededError{Kind: kind, Tier: rec.Tier}
	}
	s.holds[key] = held + 1
	s.holdsMu.Unlock()
	return rec, nil
}

// Commit consumes one unit of kind and drops the reservation taken by Check,
// whether or not the consume succeeds. The record is re-read first so a
// reset that happened since Check is never overwritten.
func (s *Service) Commit(ctx context.Context, u User, kind Kind) (*Record, error) {
	unlock := s.locks.Lock(u.ID)
	defer unlock()
	defer s.release(u.ID, kind)

	if _, err := s.observeLocked(ctx, u); err != nil {
		return nil, err
	}

	rec, err := s.store.Consume(ctx, u.ID, kind)
	if err != nil {
		return nil, err
	}

	metrics.QuotaConsumedTotal.WithLabelValues(string(kind), string(rec.Tier)).Inc()
	s.publish(ctx, inats.QuotaConsumed, u, kind, "", rec)
	return rec, nil
}

// Release drops a reservation taken by Check without consuming anything.
func (s *Service) Release(userID string, kind Kind) {
	unlock := s.locks.Lock(userID)
	defer unlock()
	s.release(userID, kind)
}

// Held reports how many units of kind the user's in-flight jobs reserve.
func (s *Service) Held(userID string, kind Kind) int {
	s.holdsMu.Lock()
	defer s.holdsMu.Unlock()
	return s.holds[holdKey{userID: userID, kind: kind}]
}

func (s *Service) release(userID string, kind Kind) {
	key := holdKey{userID: userID, kind: kind}
	s.holdsMu.Lock()
	defer s.holdsMu.Unlock()
	switch n := s.holds[key]; {
	case n > 1:
		s.holds[key] = n - 1
	case n == 1:
		delete(s.holds, key)
	}
}

// Reset restores the full allowance of the user's tier.
func (s *Service) Reset(ctx context.Context, u User, trigger string) (*Record, error) {
	unlock := s.locks.Lock(u.ID)
	defer unlock()
	return s.resetLocked(ctx, u, trigger)
}

func (s *Service) resetLocked(ctx context.Context, u User, trigger string) (*Record, error) {
	rec, err := s.store.Reset(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	metrics.QuotaResetsTotal.WithLabelValues(trigger).Inc()
	s.publish(ctx, inats.QuotaReset, u, "", trigger, rec)
	slog.Debug("quota: reset", "user_id", u.ID, "tier", rec.Tier, "trigger", trigger)
	return rec, nil
}

// ChangeTier updates the user's tier without granting any allowance.
func (s *Service) ChangeTier(ctx context.Context, u User, tier Tier) (*Record, error) {
	unlock := s.locks.Lock(u.ID)
	defer unlock()

	rec, err := s.store.ChangeTier(ctx, u.ID, tier)
	if errors.Is(err, ErrRecordNotFound) {
		if _, err := s.store.Load(ctx, u.ID, tier); err != nil {
			return nil, err
		}
		rec, err = s.store.ChangeTier(ctx, u.ID, tier)
	}
	if err != nil {
		return nil, err
	}

	u.Tier = tier
	s.publish(ctx, inats.QuotaTier, u, "", "", rec)
	return rec, nil
}

// Status returns the caller's quota together with the next reset instant.
func (s *Service) Status(ctx context.Context, u User) (*Status, error) {
	rec, err := s.Observe(ctx, u)
	if err != nil {
		return nil, err
	}

	now := s.now()
	next := schedule.NextMidnight(now, u.Location)
	return &Status{
		Tier:             rec.Tier,
		GenerationsLeft:  rec.GenerationsLeft,
		UpscalesLeft:     rec.UpscalesLeft,
		Limits:           s.tiers.Limits(rec.Tier),
		TotalGenerations: rec.TotalGenerations,
		TotalUpscales:    rec.TotalUpscales,
		LastResetAt:      rec.LastResetAt,
		NextResetAt:      next,
		ResetInSeconds:   int64(next.Sub(now) / time.Second),
	}, nil
}

func (s *Service) publish(ctx context.Context, eventType string, u User, kind Kind, trigger string, rec *Record) {
	if s.events == nil {
		return
	}

	event := inats.QuotaEvent{
		UserID:    u.ID,
		Tier:      string(u.Tier),
		EventType: eventType,
		Kind:      string(kind),
		Trigger:   trigger,
		Timestamp: s.now().UTC(),
	}
	if rec != nil {
		event.Tier = string(rec.Tier)
		event.GenerationsLeft = rec.GenerationsLeft
		event.UpscalesLeft = rec.UpscalesLeft
	}

	if err := s.events.PublishQuotaEvent(ctx, event); err != nil {
		slog.Warn("quota: publishing event failed", "event_type", eventType, "user_id", u.ID, "error", err)
	}
}

// keyedMutex hands out one mutex per key and drops it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
