package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/observability"
	"go.uber.org/zap"
)

const pendingScanLimit = 100

// PendingTransfer is a transfer key that never reached a terminal outcome.
type PendingTransfer struct {
	Key       string
	CreatedAt time.Time
	LastState string
}

// ReconciliationService surfaces transfers stuck without a result: crashed
// runs, unknown debit outcomes and fatal compensation failures.
type ReconciliationService struct {
	store  QueryStore
	audit  *AuditService
	minAge time.Duration
	now    func() time.Time
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore, minAge time.Duration) *ReconciliationService {
	return &ReconciliationService{
		store:  store,
		audit:  NewAuditService(store),
		minAge: minAge,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run lists pending transfer keys older than the minimum age and reports each
// with its last saga state. It never moves money.
func (s *ReconciliationService) Run(ctx context.Context) ([]PendingTransfer, error) {
	records, err := s.store.Queries().ListPendingTransferKeys(ctx, s.now().Add(-s.minAge), pendingScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list pending transfer keys: %w", err)
	}
	observability.SetPendingTransfers(len(records))

	pending := make([]PendingTransfer, 0, len(records))
	for _, rec := range records {
		state, err := s.audit.LatestState(ctx, rec.Key)
		if err != nil {
			zap.L().Warn("pending transfer state unavailable", zap.String("idempotency_key", rec.Key), zap.Error(err))
		}
		p := PendingTransfer{Key: rec.Key, CreatedAt: rec.CreatedAt, LastState: state}
		pending = append(pending, p)

		fields := []zap.Field{
			zap.String("idempotency_key", p.Key),
			zap.Time("created_at", p.CreatedAt),
			zap.String("last_state", p.LastState),
		}
		if p.LastState == SagaFatal {
			zap.L().Error("transfer needs manual remediation", fields...)
			continue
		}
		zap.L().Warn("transfer pending past resume window", fields...)
	}

	if len(pending) == 0 {
		zap.L().Debug("no pending transfers")
	}
	return pending, nil
}
