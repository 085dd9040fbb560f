package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_SpacesSerialCalls(t *testing.T) {
	l := NewLimiter(20 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	// first call is free, the next four wait one interval each
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestLimiter_SpacesConcurrentCalls(t *testing.T) {
	l := NewLimiter(15 * time.Millisecond)

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background()))
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 6)
	first, last := stamps[0], stamps[0]
	for _, s := range stamps {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 60*time.Millisecond)
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l := NewLimiter(time.Hour)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Acquire(ctx))
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, time.Duration(0), l.Interval())

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Acquire(context.Background()))
}
