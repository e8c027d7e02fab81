package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindOf_UnwrapsTypedError(t *testing.T) {
	err := NewError(ErrNotHost, "only the host can do that")
	if ErrorKindOf(err) != ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", ErrorKindOf(err))
	}
}

func TestErrorKindOf_WrappedError(t *testing.T) {
	base := NewError(ErrFull, "room is full")
	wrapped := fmt.Errorf("join failed: %w", base)
	if ErrorKindOf(wrapped) != ErrFull {
		t.Fatalf("expected ErrFull, got %v", ErrorKindOf(wrapped))
	}
}

func TestErrorKindOf_DefaultsToInternal(t *testing.T) {
	if ErrorKindOf(errors.New("boom")) != ErrInternal {
		t.Fatal("expected plain errors to default to ErrInternal")
	}
}

func TestNewValidationError_CarriesField(t *testing.T) {
	err := NewValidationError("text", "too short")
	if err.Kind != ErrValidation {
		t.Fatalf("expected ErrValidation, got %v", err.Kind)
	}
	if err.Field != "text" {
		t.Fatalf("expected field 'text', got %q", err.Field)
	}
}
