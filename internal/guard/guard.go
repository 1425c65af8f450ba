package guard

import (
	"log/slog"
	"sync"
	"time"
)

// Config holds brute-force guard settings. The attempt window and the lockout
// duration are the same span: failures older than the lockout window are
// invisible to the count.
type Config struct {
	MaxAttempts     int
	LockoutDuration time.Duration
}

// LoginConfig is the guard for password authentication.
func LoginConfig() Config {
	return Config{MaxAttempts: 5, LockoutDuration: 15 * time.Minute}
}

// OTPConfig is more forgiving: the code is a secondary factor with a short
// validity window of its own, so user-driven retries are expected.
func OTPConfig() Config {
	return Config{MaxAttempts: 10, LockoutDuration: 5 * time.Minute}
}

// Outcome is the result of recording a failed attempt.
type Outcome struct {
	Locked     bool
	Remaining  int           // attempts left before lockout, 0 when locked
	RetryAfter time.Duration // time until the lockout lifts, 0 when not locked
}

type record struct {
	failures   []time.Time
	lockedAt   time.Time
	lockoutSet bool
}

// Guard tracks failed attempts per identifier with a sliding window and locks
// the identifier out once the threshold is reached. Lockout expiry is lazy:
// no timer runs, an expired lockout persists in the store until the next
// IsLocked call observes it and clears both the lockout and the history.
type Guard struct {
	mu      sync.Mutex
	config  Config
	records map[string]*record
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Guard with the given config.
func New(config Config, logger *slog.Logger) *Guard {
	return &Guard{
		config:  config,
		records: make(map[string]*record),
		logger:  logger,
		now:     time.Now,
	}
}

// RecordAttempt registers a failed attempt for the identifier. Failures are
// pruned to the lockout window first; if the pruned count plus this attempt
// reaches the threshold, the lockout starts at this attempt's timestamp.
// Attempts made during an existing lockout do not extend it.
func (g *Guard) RecordAttempt(identifier string) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	rec := g.record(identifier)

	if rec.lockoutSet {
		if remaining := g.remainingLocked(rec, now); remaining > 0 {
			return Outcome{Locked: true, RetryAfter: remaining}
		}
		g.release(rec)
	}

	rec.failures = prune(rec.failures, now.Add(-g.config.LockoutDuration))
	rec.failures = append(rec.failures, now)

	if len(rec.failures) >= g.config.MaxAttempts {
		rec.lockedAt = now
		rec.lockoutSet = true
		g.logger.Warn("identifier locked out",
			slog.Int("failed_attempts", len(rec.failures)),
			slog.Duration("lockout_duration", g.config.LockoutDuration))
		return Outcome{Locked: true, RetryAfter: g.config.LockoutDuration}
	}

	return Outcome{Remaining: g.config.MaxAttempts - len(rec.failures)}
}

// IsLocked reports whether the identifier is currently locked out. Observing
// an expired lockout clears it along with the attempt history.
func (g *Guard) IsLocked(identifier string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[identifier]
	if !ok || !rec.lockoutSet {
		return false
	}

	if g.remainingLocked(rec, g.now()) > 0 {
		return true
	}

	g.release(rec)
	delete(g.records, identifier)
	return false
}

// RemainingLockout returns how long until the identifier's lockout lifts,
// or zero when it is not locked.
func (g *Guard) RemainingLockout(identifier string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[identifier]
	if !ok || !rec.lockoutSet {
		return 0
	}
	if remaining := g.remainingLocked(rec, g.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// Clear resets all state for the identifier. Called on successful
// authentication.
func (g *Guard) Clear(identifier string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, identifier)
}

// Sweep drops identifiers with no in-window failures and no live lockout.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.config.LockoutDuration)
	evicted := 0
	for id, rec := range g.records {
		if rec.lockoutSet && g.remainingLocked(rec, now) > 0 {
			continue
		}
		rec.failures = prune(rec.failures, cutoff)
		if len(rec.failures) == 0 {
			delete(g.records, id)
			evicted++
		}
	}
	return evicted
}

func (g *Guard) record(identifier string) *record {
	rec, ok := g.records[identifier]
	if !ok {
		rec = &record{}
		g.records[identifier] = rec
	}
	return rec
}

func (g *Guard) remainingLocked(rec *record, now time.Time) time.Duration {
	elapsed := now.Sub(rec.lockedAt)
	if elapsed < g.config.LockoutDuration {
		return g.config.LockoutDuration - elapsed
	}
	return 0
}

func (g *Guard) release(rec *record) {
	rec.lockoutSet = false
	rec.lockedAt = time.Time{}
	rec.failures = nil
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[i:]...)
}
