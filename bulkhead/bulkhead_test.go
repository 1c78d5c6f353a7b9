package bulkhead

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_AcquireRelease(t *testing.T) {
	c := NewCounter()

	require.NoError(t, c.AcquireSlot("openai", 2))
	require.NoError(t, c.AcquireSlot("openai", 2))
	assert.ErrorIs(t, c.AcquireSlot("openai", 2), ErrConcurrencyExceeded)

	c.ReleaseSlot("openai", 2)
	assert.NoError(t, c.AcquireSlot("openai", 2))
}

func TestCounter_UnlimitedWhenMaxUnset(t *testing.T) {
	c := NewCounter()
	for i := 0; i < 100; i++ {
		require.NoError(t, c.AcquireSlot("openai", 0))
	}
	assert.Equal(t, 0, c.InFlight("openai"), "unset max is a no-op, count never increments")
}

func TestCounter_ReleaseFloorsAtZero(t *testing.T) {
	c := NewCounter()
	c.ReleaseSlot("openai", 2)
	c.ReleaseSlot("openai", 2)
	assert.Equal(t, 0, c.InFlight("openai"))
}

func TestCounter_ConcurrentMaxOneProducesExactlyOneSuccess(t *testing.T) {
	c := NewCounter()
	var wg sync.WaitGroup
	var successes, rejections int32
	var mu sync.Mutex

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.AcquireSlot("openai", 1)
			mu.Lock()
			if err == nil {
				successes++
			} else {
				rejections++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(1), rejections)
}

func TestCounter_BucketsAreIndependent(t *testing.T) {
	c := NewCounter()
	require.NoError(t, c.AcquireSlot("openai", 1))
	assert.NoError(t, c.AcquireSlot("anthropic", 1))
}
