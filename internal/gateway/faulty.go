package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
)

// Operation names passed to FaultyLedger.FailWhen.
const (
	OpGetBalance         = "get_balance"
	OpRecordMovement     = "record_movement"
	OpRecordCompensation = "record_compensation"
	OpLookupAccount      = "lookup_account"
)

// FaultyLedger wraps a Ledger and injects latency and failures. FailWhen,
// when set, decides per call; otherwise calls fail at FailureRate with an
// upstream error. Failed calls never reach Next.
type FaultyLedger struct {
	Next        Ledger
	FailureRate float64
	MaxDelay    time.Duration
	FailWhen    func(op string, req *MovementRequest) error
}

func NewFaultyLedger(next Ledger) *FaultyLedger {
	return &FaultyLedger{Next: next}
}

func (f *FaultyLedger) GetBalance(ctx context.Context, token string) (*models.Balance, error) {
	if err := f.inject(ctx, OpGetBalance, nil); err != nil {
		return nil, err
	}
	return f.Next.GetBalance(ctx, token)
}

func (f *FaultyLedger) RecordMovement(ctx context.Context, token string, req MovementRequest) error {
	if err := f.inject(ctx, OpRecordMovement, &req); err != nil {
		return err
	}
	return f.Next.RecordMovement(ctx, token, req)
}

func (f *FaultyLedger) RecordCompensation(ctx context.Context, token string, req MovementRequest) error {
	if err := f.inject(ctx, OpRecordCompensation, &req); err != nil {
		return err
	}
	return f.Next.RecordCompensation(ctx, token, req)
}

func (f *FaultyLedger) LookupAccount(ctx context.Context, token, number string) (*models.Account, error) {
	if err := f.inject(ctx, OpLookupAccount, nil); err != nil {
		return nil, err
	}
	return f.Next.LookupAccount(ctx, token, number)
}

func (f *FaultyLedger) inject(ctx context.Context, op string, req *MovementRequest) error {
	if f.MaxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(f.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.ErrUpstreamUnavailable.Wrap(fmt.Errorf("ledger call canceled: %w", ctx.Err()))
		}
	}
	if f.FailWhen != nil {
		return f.FailWhen(op, req)
	}
	if f.FailureRate > 0 && rand.Float64() < f.FailureRate {
		return domain.ErrUpstreamUnavailable.WithMessage("injected %s failure", op)
	}
	return nil
}
