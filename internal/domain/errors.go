package domain

import (
	"errors"
	"fmt"
)

// ErrorKind groups error codes by how callers are expected to react.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindBusinessRule
	KindUpstream
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusinessRule:
		return "business_rule"
	case KindUpstream:
		return "upstream"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Stable error codes exposed to API clients.
const (
	CodeInvalidValue             = "INVALID_VALUE"
	CodeInvalidType              = "INVALID_TYPE"
	CodeInvalidAccount           = "INVALID_ACCOUNT"
	CodeInactiveAccount          = "INACTIVE_ACCOUNT"
	CodeThirdPartyDebitForbidden = "THIRD_PARTY_DEBIT_FORBIDDEN"
	CodeInsufficientFunds        = "INSUFFICIENT_FUNDS"
	CodeOriginInactive           = "ORIGIN_INACTIVE"
	CodeTransferFailed           = "TRANSFER_FAILED"
	CodeTransferInProgress       = "TRANSFER_IN_PROGRESS"
	CodeTransferNotFound         = "TRANSFER_NOT_FOUND"
	CodeUnauthorized             = "USER_UNAUTHORIZED"
	CodeUpstreamUnavailable      = "UPSTREAM_UNAVAILABLE"
	CodeInternal                 = "INTERNAL_ERROR"
)

// Error is the single error type crossing service boundaries. Two errors are
// equal under errors.Is when their codes match, so a sentinel with a generic
// message still matches an instance carrying a specific one.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e that wraps cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

var (
	ErrInvalidKind = &Error{Kind: KindValidation, Code: CodeInvalidType,
		Message: "movement kind must be C or D"}
	ErrInvalidAmount = &Error{Kind: KindValidation, Code: CodeInvalidValue,
		Message: "amount must be greater than zero"}
	ErrAmountOutOfRange = &Error{Kind: KindValidation, Code: CodeInvalidValue,
		Message: "amount must be at most 9999999999999999.99"}
	ErrInvalidRequest = &Error{Kind: KindValidation, Code: CodeInvalidValue,
		Message: "invalid request"}

	ErrAccountNotFound = &Error{Kind: KindBusinessRule, Code: CodeInvalidAccount,
		Message: "account not found"}
	ErrInactiveAccount = &Error{Kind: KindBusinessRule, Code: CodeInactiveAccount,
		Message: "account is inactive"}
	ErrThirdPartyDebitForbidden = &Error{Kind: KindBusinessRule, Code: CodeThirdPartyDebitForbidden,
		Message: "debits are only allowed on the caller's own account"}
	ErrInsufficientFunds = &Error{Kind: KindBusinessRule, Code: CodeInsufficientFunds,
		Message: "insufficient funds"}
	ErrOriginInactive = &Error{Kind: KindBusinessRule, Code: CodeOriginInactive,
		Message: "origin account is inactive"}
	ErrTransferFailed = &Error{Kind: KindBusinessRule, Code: CodeTransferFailed,
		Message: "transfer could not be completed and was reversed"}
	ErrTransferInProgress = &Error{Kind: KindBusinessRule, Code: CodeTransferInProgress,
		Message: "a transfer with this idempotency key is still in progress"}
	ErrTransferNotFound = &Error{Kind: KindBusinessRule, Code: CodeTransferNotFound,
		Message: "transfer not found"}
	ErrUnauthorized = &Error{Kind: KindBusinessRule, Code: CodeUnauthorized,
		Message: "unauthorized"}

	ErrUpstreamUnavailable = &Error{Kind: KindUpstream, Code: CodeUpstreamUnavailable,
		Message: "ledger service unavailable"}

	ErrFatalInconsistency = &Error{Kind: KindFatal, Code: CodeInternal,
		Message: "internal error"}
)

var byCode = map[string]*Error{}

func init() {
	for _, e := range []*Error{
		ErrInvalidKind, ErrInvalidAmount, ErrAccountNotFound, ErrInactiveAccount,
		ErrThirdPartyDebitForbidden, ErrInsufficientFunds, ErrOriginInactive,
		ErrTransferFailed, ErrTransferInProgress, ErrUnauthorized,
		ErrUpstreamUnavailable, ErrFatalInconsistency,
	} {
		byCode[e.Code] = e
	}
}

// FromCode rebuilds a typed error from a code received over the wire or read
// from a stored result. Unknown codes map to a business-rule error so the
// caller still sees the original code.
func FromCode(code, message string) *Error {
	base, ok := byCode[code]
	if !ok {
		return &Error{Kind: KindBusinessRule, Code: code, Message: message}
	}
	if message == "" {
		return base
	}
	return base.WithMessage("%s", message)
}

// KindOf returns the kind of err, or zero when err is not a *Error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// IsUpstream reports whether err is a transport-level failure rather than a
// decision made by the remote service.
func IsUpstream(err error) bool {
	return KindOf(err) == KindUpstream
}
