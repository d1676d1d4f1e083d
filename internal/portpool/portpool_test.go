package portpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireReturnsLowestFreePort(t *testing.T) {
	p := New(5000, 5002)

	port, ok := p.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, 5000, port)

	port, ok = p.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, 5001, port)
}

func TestTryAcquireExhaustion(t *testing.T) {
	p := New(6000, 6001)

	_, ok := p.TryAcquire()
	require.True(t, ok)
	_, ok = p.TryAcquire()
	require.True(t, ok)

	_, ok = p.TryAcquire()
	assert.False(t, ok, "pool should report exhaustion once every port is acquired")
}

func TestReleaseMakesPortAvailableAgain(t *testing.T) {
	p := New(7000, 7000)

	port, ok := p.TryAcquire()
	require.True(t, ok)

	p.Release(port)

	port2, ok := p.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, port, port2)
}

func TestReleaseOfUnacquiredPortIsNoOp(t *testing.T) {
	p := New(8000, 8005)
	p.Release(8003)
	assert.Equal(t, 0, p.Len())
}

func TestConcurrentAcquireNeverDoubleIssuesAPort(t *testing.T) {
	const rangeSize = 64
	p := New(9000, 9000+rangeSize-1)

	var wg sync.WaitGroup
	results := make(chan int, rangeSize*4)

	for i := 0; i < rangeSize*4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if port, ok := p.TryAcquire(); ok {
				results <- port
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]int)
	for port := range results {
		seen[port]++
		assert.GreaterOrEqual(t, port, 9000)
		assert.LessOrEqual(t, port, 9000+rangeSize-1)
	}
	for port, count := range seen {
		assert.Equalf(t, 1, count, "port %d was issued %d times concurrently", port, count)
	}
	assert.LessOrEqual(t, len(seen), rangeSize)
}
