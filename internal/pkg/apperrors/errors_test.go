package apperrors

import (
	"fmt"
	"testing"
)

func TestError_IncludesCauseWhenPresent(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := New(ErrTransientRPC, "submission failed", cause)
	want := "submission failed: connection reset"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestError_OmitsCauseWhenNil(t *testing.T) {
	err := New(ErrConfig, "missing database url", nil)
	if err.Error() != "missing database url" {
		t.Fatalf("got %q", err.Error())
	}
}

func TestRetryable_TerminalTypesReturnFalse(t *testing.T) {
	for _, typ := range []ErrorType{ErrAlreadyFulfilled, ErrUnknownRequest, ErrConfig} {
		err := New(typ, "x", nil)
		if err.Retryable() {
			t.Fatalf("%s should not be retryable", typ)
		}
	}
}

func TestRetryable_OtherTypesReturnTrue(t *testing.T) {
	for _, typ := range []ErrorType{ErrTransientRPC, ErrNonce, ErrInsufficientBalance, ErrContractRevert, ErrDatabase} {
		err := New(typ, "x", nil)
		if !err.Retryable() {
			t.Fatalf("%s should be retryable", typ)
		}
	}
}

func TestAs_FindsWrappedAppError(t *testing.T) {
	inner := New(ErrNonce, "nonce too low", nil)
	wrapped := fmt.Errorf("submit: %w", inner)

	found, ok := As(wrapped)
	if !ok {
		t.Fatal("expected to find wrapped AppError")
	}
	if found.Type != ErrNonce {
		t.Fatalf("got type %s", found.Type)
	}
}

func TestAs_ReturnsFalseForPlainError(t *testing.T) {
	_, ok := As(fmt.Errorf("plain error"))
	if ok {
		t.Fatal("expected no AppError to be found")
	}
}

func TestAs_ReturnsFalseForNil(t *testing.T) {
	_, ok := As(nil)
	if ok {
		t.Fatal("expected false for nil error")
	}
}
