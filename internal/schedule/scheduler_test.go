package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

func newFakeScheduler(now time.Time) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: now}
	return NewWithClock(clock.Now, clock.AfterFunc), clock
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNextMidnight(t *testing.T) {
	berlin := mustLoad(t, "Europe/Berlin")

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			name: "utc afternoon",
			now:  time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly midnight moves to the following day",
			now:  time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "month rollover",
			now:  time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "user zone ahead of utc",
			now:  time.Date(2024, 6, 1, 22, 30, 0, 0, time.UTC), // 00:30 on Jun 2 in Berlin
			loc:  berlin,
			want: time.Date(2024, 6, 3, 0, 0, 0, 0, berlin),
		},
		{
			name: "nil location falls back to utc",
			now:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
			loc:  nil,
			want: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextMidnight(tt.now, tt.loc)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
			assert.True(t, got.After(tt.now))
		})
	}
}

func TestNextMidnight_DSTTransition(t *testing.T) {
	berlin := mustLoad(t, "Europe/Berlin")
	// Clocks spring forward on 2024-03-31; that day is only 23h long.
	now := time.Date(2024, 3, 31, 1, 0, 0, 0, berlin)
	got := NextMidnight(now, berlin)

	y, m, d := got.Date()
	assert.Equal(t, 2024, y)
	assert.Equal(t, time.April, m)
	assert.Equal(t, 1, d)
	assert.Equal(t, 0, got.Hour())
	assert.Equal(t, 22*time.Hour, got.Sub(now))
}

func TestSameDay(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	a := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC) // 23:00 in Tokyo
	b := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC) // 01:00 next day in Tokyo

	assert.True(t, SameDay(a, b, time.UTC))
	assert.False(t, SameDay(a, b, tokyo))
}

func TestArmNext_FiresOnceAtMidnight(t *testing.T) {
	now := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	s, clock := newFakeScheduler(now)

	var calls []time.Time
	h := s.ArmNext(now, time.UTC, func(at time.Time) { calls = append(calls, at) })

	timer := clock.last()
	assert.Equal(t, 6*time.Hour, timer.d)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), h.At())

	clock.Set(h.At())
	timer.f()
	timer.f() // a duplicate wakeup must not fire again

	require.Len(t, calls, 1)
	assert.True(t, calls[0].Equal(h.At()))
	assert.True(t, h.Fired())
	assert.False(t, h.Cancel(), "cancel after firing is a no-op")
}

func TestArmNext_NeverFiresEarly(t *testing.T) {
	now := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	s, clock := newFakeScheduler(now)

	fired := 0
	h := s.ArmNext(now, time.UTC, func(time.Time) { fired++ })

	// Timer wakes 10 minutes early.
	clock.Set(h.At().Add(-10 * time.Minute))
	clock.last().f()
	assert.Equal(t, 0, fired)
	assert.Len(t, clock.timers, 2, "early wakeup re-arms for the remainder")
	assert.Equal(t, 10*time.Minute, clock.last().d)

	clock.Set(h.At())
	clock.last().f()
	assert.Equal(t, 1, fired)
}

func TestArmNext_Cancel(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s, clock := newFakeScheduler(now)

	fired := false
	h := s.ArmNext(now, time.UTC, func(time.Time) { fired = true })

	assert.True(t, h.Cancel())
	assert.True(t, clock.last().stopped)
	assert.False(t, h.Cancel())

	clock.Set(h.At())
	clock.last().f()
	assert.False(t, fired)
	assert.False(t, h.Fired())
}
