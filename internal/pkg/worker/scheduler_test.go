package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsJobsUntilCancelled(t *testing.T) {
	var ok, failing, panicking atomic.Int32
	s := NewScheduler(nil)
	fixed := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Every("sweep", 2*time.Millisecond, func(_ context.Context, now time.Time) error {
		assert.Equal(t, fixed, now)
		ok.Add(1)
		return nil
	})
	s.Every("failing", 2*time.Millisecond, func(context.Context, time.Time) error {
		failing.Add(1)
		return errors.New("gateway down")
	})
	s.Every("panicking", 2*time.Millisecond, func(context.Context, time.Time) error {
		panicking.Add(1)
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	assert.Eventually(t, func() bool {
		return ok.Load() >= 2 && failing.Load() >= 2 && panicking.Load() >= 2
	}, time.Second, time.Millisecond)

	cancel()
	s.Wait()

	after := ok.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, ok.Load())
}
