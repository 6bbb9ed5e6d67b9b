package worker

import (
	"context"
	"time"

	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

// Reconciler runs one reconciliation pass over unsettled orders
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// ReconcileWorker periodically settles orders whose payment result never arrived
type ReconcileWorker struct {
	reconciler Reconciler
	interval   time.Duration
	logger     *zap.Logger
	done       chan struct{}
}

// NewReconcileWorker creates a new reconciliation worker
func NewReconcileWorker(reconciler Reconciler, interval time.Duration) *ReconcileWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReconcileWorker{
		reconciler: reconciler,
		interval:   interval,
		logger:     util.ComponentLogger("reconciler"),
		done:       make(chan struct{}),
	}
}

// Start runs passes on a ticker until ctx is cancelled
func (w *ReconcileWorker) Start(ctx context.Context) error {
	defer close(w.done)
	w.logger.Info("Starting reconciliation worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping reconciliation worker")
			return nil
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ReconcileWorker) runOnce(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	if err := w.reconciler.Reconcile(passCtx); err != nil && ctx.Err() == nil {
		w.logger.Error("Reconciliation pass failed", zap.Error(err))
	}
}

// Wait blocks until Start has returned
func (w *ReconcileWorker) Wait() {
	<-w.done
}
