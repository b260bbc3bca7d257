package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Saga states of a transfer.
const (
	SagaStart                 = "START"
	SagaValidatedOrigin       = "VALIDATED_ORIGIN"
	SagaDebitedOrigin         = "DEBITED_ORIGIN"
	SagaCompleted             = "COMPLETED"
	SagaCompensationAttempted = "COMPENSATION_ATTEMPTED"
	SagaFailed                = "FAILED"
	SagaRejected              = "REJECTED"
	SagaFatal                 = "FATAL"
)

var sagaTransitions = map[string]map[string]struct{}{
	SagaStart: {
		SagaValidatedOrigin: {},
		SagaDebitedOrigin:   {},
		SagaRejected:        {},
	},
	SagaValidatedOrigin: {
		SagaDebitedOrigin: {},
		SagaRejected:      {},
	},
	SagaDebitedOrigin: {
		SagaCompleted:             {},
		SagaCompensationAttempted: {},
	},
	SagaCompensationAttempted: {
		SagaFailed: {},
		SagaFatal:  {},
	},
	SagaCompleted: {},
	SagaFailed:    {},
	SagaRejected:  {},
	SagaFatal:     {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	current = normalizeState(current)
	next = normalizeState(next)
	nextStates, ok := sagaTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func isTerminalState(state string) bool {
	next, ok := sagaTransitions[normalizeState(state)]
	return ok && len(next) == 0
}

// sagaRun tracks one execution of a transfer saga. Transitions are checked
// against the table and recorded in the audit trail; an audit write failure
// is logged and never interrupts the money movement.
type sagaRun struct {
	key   string
	state string
	audit *AuditService
}

func newSagaRun(ctx context.Context, key string, audit *AuditService, resumed bool) *sagaRun {
	run := &sagaRun{key: key, state: SagaStart, audit: audit}
	metadata := map[string]any{"resumed": resumed}
	run.record(ctx, "", SagaStart, metadata)
	return run
}

// continueSagaRun picks a resumed transfer up at its last recorded state
// without writing a new START entry.
func continueSagaRun(key string, audit *AuditService, state string) *sagaRun {
	return &sagaRun{key: key, state: normalizeState(state), audit: audit}
}

// checkpoint is transition for steps that must be on record before the saga
// continues. The state only advances when the audit write succeeds.
func (r *sagaRun) checkpoint(ctx context.Context, next string, metadata map[string]any) error {
	if !canTransition(r.state, next) {
		return fmt.Errorf("invalid saga state transition %s -> %s", r.state, next)
	}
	if err := r.write(ctx, r.state, next, metadata); err != nil {
		return err
	}
	r.state = next
	return nil
}

// transition moves the run to next. Moving to the current state is a no-op;
// other invalid transitions are logged and ignored.
func (r *sagaRun) transition(ctx context.Context, next string, metadata map[string]any) {
	if normalizeState(next) == r.state {
		return
	}
	if !canTransition(r.state, next) {
		zap.L().Error("invalid saga state transition",
			zap.String("idempotency_key", r.key),
			zap.String("from", r.state),
			zap.String("to", next))
		return
	}
	prev := r.state
	r.state = next
	r.record(ctx, prev, next, metadata)
	if isTerminalState(next) {
		zap.L().Info("saga finished",
			zap.String("idempotency_key", r.key),
			zap.String("state", next))
	}
}

func (r *sagaRun) record(ctx context.Context, prev, next string, metadata map[string]any) {
	if err := r.write(ctx, prev, next, metadata); err != nil {
		zap.L().Warn("saga audit write failed",
			zap.Error(err),
			zap.String("idempotency_key", r.key),
			zap.String("prev_state", prev),
			zap.String("next_state", next))
	}
}

func (r *sagaRun) write(ctx context.Context, prev, next string, metadata map[string]any) error {
	if r.audit == nil {
		return nil
	}
	var payload []byte
	if len(metadata) > 0 {
		payload, _ = json.Marshal(metadata)
	}
	return r.audit.Write(ctx, r.key, prev, next, payload)
}
