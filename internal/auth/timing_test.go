package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimingDelay_FailureWaits(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 30, RandomDelayMs: 10})

	start := time.Now()
	td.WaitFrom(start, false)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestTimingDelay_SuccessSkips(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 500})

	start := time.Now()
	td.WaitFrom(start, true)

	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestTimingDelay_WaitFromCountsElapsed(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 40})

	start := time.Now().Add(-100 * time.Millisecond)
	before := time.Now()
	td.WaitFrom(start, false)

	// Target already elapsed, should return almost immediately
	assert.Less(t, time.Since(before), 30*time.Millisecond)
}

func TestCryptoRandIntn(t *testing.T) {
	for i := 0; i < 50; i++ {
		n, err := cryptoRandIntn(10)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 10)
	}

	n, err := cryptoRandIntn(0)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
