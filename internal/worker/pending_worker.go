// Package worker runs background loops for the transfer service.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"go.uber.org/zap"
)

const workerName = "pending_transfers"

// Scanner reports transfers stuck without a result.
type Scanner interface {
	Run(ctx context.Context) ([]service.PendingTransfer, error)
}

// PendingTransferWorker scans for stuck transfers on a fixed interval. It
// only reports; remediation is left to operators.
type PendingTransferWorker struct {
	scanner  Scanner
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewPendingTransferWorker(scanner Scanner) *PendingTransferWorker {
	return &PendingTransferWorker{
		scanner:  scanner,
		interval: time.Minute,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithInterval sets the scan interval. Non-positive values are ignored.
func (w *PendingTransferWorker) WithInterval(interval time.Duration) *PendingTransferWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start launches the loop and returns a stop function that blocks until the
// in-progress scan, if any, has returned.
func (w *PendingTransferWorker) Start(ctx context.Context) (stop func()) {
	go w.loop(ctx)
	return func() {
		w.stopOnce.Do(func() { close(w.stopCh) })
		<-w.done
	}
}

func (w *PendingTransferWorker) loop(ctx context.Context) {
	defer close(w.done)
	log := zap.L().With(zap.String("worker", workerName))
	log.Info("worker started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.scan(ctx, log)
		select {
		case <-ctx.Done():
			log.Info("worker stopped", zap.String("reason", "context canceled"))
			return
		case <-w.stopCh:
			log.Info("worker stopped", zap.String("reason", "stop requested"))
			return
		case <-ticker.C:
		}
	}
}

func (w *PendingTransferWorker) scan(ctx context.Context, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	pending, err := w.scanner.Run(ctx)
	switch {
	case err != nil:
		observability.IncrementWorkerRun(workerName, "failed")
		log.Error("pending transfer scan failed", zap.Error(err))
	case len(pending) > 0:
		observability.IncrementWorkerRun(workerName, "pending_found")
		log.Info("pending transfer scan finished", zap.Int("pending", len(pending)))
	default:
		observability.IncrementWorkerRun(workerName, "clean")
	}
}
