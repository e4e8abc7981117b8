package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_IsByCode(t *testing.T) {
	err := ErrNotExist.WithDetails("session s1")
	if !errors.Is(err, ErrNotExist) {
		t.Error("errors.Is should match by code")
	}
	if errors.Is(err, ErrAlreadyExists) {
		t.Error("errors.Is should not match a different code")
	}

	wrapped := fmt.Errorf("delete: %w", err)
	if !errors.Is(wrapped, ErrNotExist) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestDomainError_Cause(t *testing.T) {
	emptyBatch := ErrInvalidArgument.WithDetails("empty batch").WithCause(ErrNotInitialized)

	if !errors.Is(emptyBatch, ErrInvalidArgument) {
		t.Error("expected ErrInvalidArgument")
	}
	if !errors.Is(emptyBatch, ErrNotInitialized) {
		t.Error("expected the cause to match ErrNotInitialized")
	}
	if got := GetErrorCode(emptyBatch); got != ErrInvalidArgument.Code {
		t.Errorf("GetErrorCode() = %q, want %q", got, ErrInvalidArgument.Code)
	}
}

func TestDomainError_Error(t *testing.T) {
	err := ErrTimeout.WithDetails("save").WithCause(errors.New("deadline"))
	want := "[OM-RMT-5040] remote call timed out: save: deadline"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsDomainError(t *testing.T) {
	if IsDomainError(errors.New("plain"), "") {
		t.Error("plain error is not a DomainError")
	}
	if !IsDomainError(ErrDataLen, "") {
		t.Error("ErrDataLen is a DomainError")
	}
	if !IsDomainError(ErrDataLen, "OM-DATA-4001") {
		t.Error("code should match")
	}
}

func TestFieldKey(t *testing.T) {
	if got := FieldKey("salary"); got != "p_salary" {
		t.Errorf("FieldKey() = %q, want p_salary", got)
	}

	name, ok := FieldName("p_salary")
	if !ok || name != "salary" {
		t.Errorf("FieldName(p_salary) = %q, %v", name, ok)
	}
	if _, ok := FieldName("salary"); ok {
		t.Error("FieldName should reject keys without the prefix")
	}
}
