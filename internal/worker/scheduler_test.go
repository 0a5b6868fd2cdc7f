package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReconciler struct {
	expire, retry, rematch atomic.Int32
}

func (c *countingReconciler) ExpireStale(context.Context) (int, error) {
	c.expire.Add(1)
	return 0, nil
}

func (c *countingReconciler) RetryPushes(context.Context) (int, error) {
	c.retry.Add(1)
	return 0, errors.New("gateway down")
}

func (c *countingReconciler) Rematch(context.Context) (int, error) {
	c.rematch.Add(1)
	return 1, nil
}

func TestScheduler_RunsJobsImmediatelyAndOnTick(t *testing.T) {
	rec := &countingReconciler{}
	s := NewScheduler(ReconciliationJobs(rec, Intervals{
		Expiry:  time.Hour,
		Retry:   10 * time.Millisecond,
		Rematch: 10 * time.Millisecond,
	})...)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return rec.retry.Load() >= 3 && rec.rematch.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), rec.expire.Load())

	after := rec.rematch.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, rec.rematch.Load())
}

func TestScheduler_SkipsDisabledJobs(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(Job{Name: "off", Interval: 0, Run: func(context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	}})
	s.Start(context.Background())
	s.Stop()
	assert.Zero(t, runs.Load())
}
