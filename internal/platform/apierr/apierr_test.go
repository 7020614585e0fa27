package apierr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CodedError
		want string
	}{
		{
			name: "without underlying error",
			err:  New(Conflict, "CONFLICT", "already registered"),
			want: "[CONFLICT/CONFLICT] already registered",
		},
		{
			name: "with underlying error",
			err:  Wrap(PersistenceFailure, "PERSISTENCE_FAILURE", "write failed", errors.New("disk full")),
			want: "[PERSISTENCE_FAILURE/PERSISTENCE_FAILURE] write failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodedError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(TransientExternal, "TRANSIENT_EXTERNAL", "test", underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestCodedError_WithDetail(t *testing.T) {
	err := New(PreconditionViolation, "PRECONDITION_VIOLATION", "same source and destination")
	err.WithDetail("site_id", "site-1").WithDetail("command", "createTransfer")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["site_id"] != "site-1" {
		t.Errorf("Details[site_id] = %v, want site-1", err.Details["site_id"])
	}
}

func TestKind_Retryable(t *testing.T) {
	retryable := []Kind{TransientExternal, CircuitOpen}
	notRetryable := []Kind{NotInitialized, InvalidStateTransition, PreconditionViolation, Conflict, TerminalExternal, PersistenceFailure}

	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%s.Retryable() = false, want true", k)
		}
	}
	for _, k := range notRetryable {
		if k.Retryable() {
			t.Errorf("%s.Retryable() = true, want false", k)
		}
	}
}

func TestAsAndKindOf(t *testing.T) {
	err := ErrNotInitialized("org1:site1:ing1:inventory")

	wrapped := fmt.Errorf("dispatch failed: %w", err)
	coded, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to find a wrapped CodedError")
	}
	if coded.Kind != NotInitialized {
		t.Errorf("Kind = %v, want %v", coded.Kind, NotInitialized)
	}
	if KindOf(wrapped) != NotInitialized {
		t.Errorf("KindOf() = %v, want %v", KindOf(wrapped), NotInitialized)
	}
	if !Is(wrapped, NotInitialized) {
		t.Error("Is() = false, want true")
	}
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err  *CodedError
		kind Kind
	}{
		{ErrNotInitialized("k"), NotInitialized},
		{ErrInvalidStateTransition("k", "shipped", "approve"), InvalidStateTransition},
		{ErrPreconditionViolation("empty transfer"), PreconditionViolation},
		{ErrConflict("idempotency key already used"), Conflict},
		{ErrTerminalExternal("fiskaly", "START_FAILED", errors.New("bad request")), TerminalExternal},
		{ErrTransientExternal("fiskaly", errors.New("timeout")), TransientExternal},
		{ErrCircuitOpen("cloud-tss"), CircuitOpen},
		{ErrPersistenceFailure("append_events", errors.New("conn reset")), PersistenceFailure},
	}

	for _, c := range cases {
		if c.err.Kind != c.kind {
			t.Errorf("got kind %v, want %v", c.err.Kind, c.kind)
		}
	}
}
