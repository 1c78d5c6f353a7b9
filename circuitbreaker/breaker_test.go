package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New("openai", Config{FailureThreshold: 3, CooldownPeriod: time.Minute}, zap.NewNop())

	require.False(t, b.IsOpen())
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen(), "below threshold should stay closed")

	b.RecordFailure()
	assert.True(t, b.IsOpen(), "failCount >= threshold must open the breaker")
}

func TestBreaker_RecordSuccessFullyResets(t *testing.T) {
	b := New("openai", Config{FailureThreshold: 2, CooldownPeriod: time.Minute}, zap.NewNop())
	b.RecordFailure()
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.RecordSuccess()
	assert.False(t, b.IsOpen())
	assert.Equal(t, 0, b.Status().FailCount)
}

func TestBreaker_CooldownExpiryClosesLazily(t *testing.T) {
	b := New("openai", Config{FailureThreshold: 1, CooldownPeriod: 20 * time.Millisecond}, zap.NewNop())
	b.RecordFailure()
	require.True(t, b.IsOpen())

	time.Sleep(30 * time.Millisecond)
	assert.False(t, b.IsOpen(), "cooldown expiry should lazily transition to closed")
}

func TestBreaker_NoHalfOpenState_SingleFailureReaccumulates(t *testing.T) {
	// spec.md explicitly rejects a half-open probe: the first post-cooldown
	// attempt is an ordinary closed-state call, so one failure does not
	// reopen the breaker by itself when the threshold is greater than one.
	b := New("openai", Config{FailureThreshold: 2, CooldownPeriod: 10 * time.Millisecond}, zap.NewNop())
	b.RecordFailure()
	b.RecordFailure()
	require.True(t, b.IsOpen())

	time.Sleep(15 * time.Millisecond)
	require.False(t, b.IsOpen())

	b.RecordFailure()
	assert.False(t, b.IsOpen(), "a single failure after cooldown must not reopen a threshold-2 breaker")
}

func TestBreaker_StatusReflectsFields(t *testing.T) {
	b := New("anthropic", Config{FailureThreshold: 1, CooldownPeriod: time.Minute}, zap.NewNop())
	b.RecordFailure()

	st := b.Status()
	assert.Equal(t, "anthropic", st.Name)
	assert.True(t, st.IsOpen)
	assert.Equal(t, 1, st.FailCount)
	assert.Equal(t, 1, st.FailureThreshold)
	assert.Greater(t, st.CooldownRemaining, time.Duration(0))
}

// TestBreaker_OpenMatchesConsecutiveFailures_Property checks spec.md §4.3's
// "N consecutive failures opens it, a success resets it" invariant against a
// generated sequence of failures/successes, with a cooldown long enough that
// lazy-close never interferes.
func TestBreaker_OpenMatchesConsecutiveFailures_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		threshold := rapid.IntRange(1, 6).Draw(rt, "threshold")
		ops := rapid.SliceOfN(rapid.Bool(), 1, 40).Draw(rt, "failureOps")

		b := New("p", Config{FailureThreshold: threshold, CooldownPeriod: time.Hour}, zap.NewNop())
		consecutive := 0
		for i, failed := range ops {
			if failed {
				b.RecordFailure()
				consecutive++
			} else {
				b.RecordSuccess()
				consecutive = 0
			}
			want := consecutive >= threshold
			if got := b.IsOpen(); got != want {
				rt.Fatalf("op %d (failed=%v): IsOpen()=%v, want %v (consecutive=%d, threshold=%d)",
					i, failed, got, want, consecutive, threshold)
			}
		}
	})
}

func TestBreaker_ForceClose(t *testing.T) {
	b := New("openai", Config{FailureThreshold: 1, CooldownPeriod: time.Minute}, zap.NewNop())
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.ForceClose()
	assert.False(t, b.IsOpen())
}
