package service

import (
	"context"

	"github.com/ayo6706/ledger-transfer/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

// EventPublisher appends domain events to a stream. Implementations must be
// safe for concurrent use.
type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}
