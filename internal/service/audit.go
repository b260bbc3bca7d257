package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/ledger-transfer/internal/repository"
)

// AuditService writes immutable saga audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single immutable audit record outside any transaction so
// the trail survives a rolled-back step.
func (s *AuditService) Write(ctx context.Context, key, prevState, nextState string, metadata []byte) error {
	if _, err := s.store.Queries().InsertSagaAudit(ctx, repository.InsertSagaAuditParams{
		IdempotencyKey: key,
		PrevState:      textParam(prevState),
		NextState:      nextState,
		Metadata:       metadata,
	}); err != nil {
		return fmt.Errorf("insert saga audit: %w", err)
	}
	return nil
}

// LatestState returns the most recent state recorded for key.
func (s *AuditService) LatestState(ctx context.Context, key string) (string, error) {
	state, err := s.store.Queries().GetLatestSagaState(ctx, key)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("load saga state: %w", err)
	}
	return state, nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
