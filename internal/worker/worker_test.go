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
	calls atomic.Int32
	err   error
}

func (r *countingReconciler) Reconcile(ctx context.Context) error {
	r.calls.Add(1)
	return r.err
}

func TestReconcileWorkerRunsOnTicker(t *testing.T) {
	rec := &countingReconciler{}
	w := NewReconcileWorker(rec, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Start(ctx) }()

	assert.Eventually(t, func() bool { return rec.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	w.Wait()
}

func TestReconcileWorkerSurvivesFailedPasses(t *testing.T) {
	rec := &countingReconciler{err: errors.New("provider down")}
	w := NewReconcileWorker(rec, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	assert.Eventually(t, func() bool { return rec.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestNewReconcileWorkerDefaultsInterval(t *testing.T) {
	w := NewReconcileWorker(&countingReconciler{}, 0)
	assert.Equal(t, time.Minute, w.interval)
}
