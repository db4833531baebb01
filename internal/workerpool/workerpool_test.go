package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := New(2, nil)
	defer p.Close()

	var calls int32
	for i := 0; i < 5; i++ {
		err := p.Submit(context.Background(), func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		require.NoError(t, err)
	}

	assert.EqualValues(t, 5, atomic.LoadInt32(&calls))
}

func TestPoolPropagatesJobError(t *testing.T) {
	p := New(1, nil)
	defer p.Close()

	boom := errors.New("boom")
	err := p.Submit(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPoolSubmitRespectsContextCancellation(t *testing.T) {
	p := New(1, nil)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Submit(ctx, func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolAppliesRateLimit(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(20*time.Millisecond), 1)
	p := New(1, limiter)
	defer p.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			return nil
		}))
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPoolPanicsOnZeroWorkers(t *testing.T) {
	assert.Panics(t, func() { New(0, nil) })
}
