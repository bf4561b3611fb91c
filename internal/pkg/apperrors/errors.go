// Package apperrors classifies the failures the fulfillment engine can hit
// so the Queue Processor can decide, without inspecting error strings at
// every call site, whether a request should retry, fail permanently, or be
// treated as already done.
package apperrors

import "fmt"

type ErrorType string

const (
	// ErrTransientRPC covers connection resets, timeouts, and 5xx from the
	// chain provider. Always retryable.
	ErrTransientRPC ErrorType = "TRANSIENT_RPC"
	// ErrNonce covers "nonce too low" and "nonce gap" responses. Triggers a
	// NonceManager.ResetFromChain for the offending account before retry.
	ErrNonce ErrorType = "NONCE_ERROR"
	// ErrInsufficientBalance means the account can't pay for gas. The
	// account is benched until its next health check.
	ErrInsufficientBalance ErrorType = "INSUFFICIENT_BALANCE"
	// ErrContractRevert is a generic, non-specific revert from
	// fulfillRandomness. Retryable unless classified more specifically
	// below.
	ErrContractRevert ErrorType = "CONTRACT_REVERT"
	// ErrAlreadyFulfilled means the contract reverted because the request
	// was already fulfilled (on-chain replay, or a race with another
	// relayer). Not a failure: the row should be marked fulfilled.
	ErrAlreadyFulfilled ErrorType = "ALREADY_FULFILLED"
	// ErrUnknownRequest means the contract reverted because it has no
	// record of the request ID. Almost certainly a bug upstream; fail
	// after one attempt rather than retrying forever.
	ErrUnknownRequest ErrorType = "UNKNOWN_REQUEST"
	// ErrDatabase covers connection failures and anything beyond a
	// transparently-retried serialization failure.
	ErrDatabase ErrorType = "DATABASE_ERROR"
	// ErrConfig is a fatal startup error: missing keys, unparseable
	// addresses.
	ErrConfig ErrorType = "CONFIG_ERROR"
)

// AppError tags an error with the kind of failure it represents so callers
// can switch on Type instead of matching strings.
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{Type: errType, Message: msg, Cause: cause}
}

// Retryable reports whether the queue processor should leave the request in
// (or return it to) the retry cycle rather than treating it as terminal
// either way.
func (e *AppError) Retryable() bool {
	switch e.Type {
	case ErrAlreadyFulfilled, ErrUnknownRequest, ErrConfig:
		return false
	default:
		return true
	}
}

// As reports the AppError carried by err, if any, the same way errors.As
// would but without requiring callers to declare a local target variable.
func As(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	if ae, ok := err.(*AppError); ok {
		return ae, true
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return As(u.Unwrap())
	}
	return nil, false
}
