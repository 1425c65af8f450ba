package ratelimit

import (
	"sync"
	"time"
)

// Config holds fixed-window limiter settings.
type Config struct {
	Limit  int           // max requests per window
	Window time.Duration // window length, anchored to "now minus window" on each check
}

// StrictConfig is the limiter applied to general API calls.
func StrictConfig() Config {
	return Config{Limit: 100, Window: 15 * time.Minute}
}

// OTPConfig is deliberately looser: OTP retries are frequent and user-driven.
func OTPConfig() Config {
	return Config{Limit: 20, Window: 10 * time.Minute}
}

// Result is the outcome of a single limiter check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per identifier in a window anchored to the time of
// each check. It is an explicit store constructed once per application
// instance; there is no package-level singleton. The mutex serializes the
// check-and-record step, so concurrent duplicate requests cannot both slip
// under the limit.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	buckets map[string][]time.Time
	now     func() time.Time
}

// New creates a Limiter with the given config.
func New(config Config) *Limiter {
	return &Limiter{
		config:  config,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check prunes the identifier's recorded timestamps to the current window and
// either rejects without recording (count already at the limit) or records the
// call and reports the remaining allowance. ResetAt is when the oldest
// in-window timestamp ages out.
func (l *Limiter) Check(identifier string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.config.Window)

	recent := pruneBefore(l.buckets[identifier], windowStart)

	if len(recent) >= l.config.Limit {
		l.buckets[identifier] = recent
		return Result{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   recent[0].Add(l.config.Window),
		}
	}

	recent = append(recent, now)
	l.buckets[identifier] = recent

	return Result{
		Allowed:   true,
		Remaining: l.config.Limit - len(recent),
		ResetAt:   recent[0].Add(l.config.Window),
	}
}

// Reset drops all recorded requests for an identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, identifier)
}

// Sweep evicts identifiers whose newest timestamp is older than the window.
// Called periodically by the background cleanup task; without it distinct
// identifiers would accumulate for the life of the process.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := l.now().Add(-l.config.Window)
	evicted := 0
	for id, stamps := range l.buckets {
		if len(stamps) == 0 || stamps[len(stamps)-1].Before(windowStart) {
			delete(l.buckets, id)
			evicted++
		}
	}
	return evicted
}

// Size returns the number of tracked identifiers.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// pruneBefore returns the suffix of stamps strictly after cutoff. Stamps are
// appended in order, so a single scan for the first survivor suffices.
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[i:]...)
}
