package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"new carries kind", New(KindValidation, "age %d out of range", 42), KindValidation},
		{"wrap carries kind", Wrap(KindDependency, cause, "loading account"), KindDependency},
		{"wrapped again with %w", fmt.Errorf("sweep: %w", New(KindConflict, "already decided")), KindConflict},
		{"plain error has no kind", cause, 0},
		{"nil has no kind", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindPredicates(t *testing.T) {
	if !IsValidation(New(KindValidation, "bad input")) {
		t.Error("IsValidation = false")
	}
	if !IsConflict(New(KindConflict, "stale")) {
		t.Error("IsConflict = false")
	}
	if !IsNotFound(New(KindNotFound, "missing")) {
		t.Error("IsNotFound = false")
	}
	if !IsAuthorization(New(KindAuthorization, "not yours")) {
		t.Error("IsAuthorization = false")
	}
	if !IsDependency(Wrap(KindDependency, errors.New("timeout"), "store")) {
		t.Error("IsDependency = false")
	}
	if IsNotFound(New(KindConflict, "stale")) {
		t.Error("IsNotFound matched a conflict error")
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("no rows")
	err := Wrap(KindNotFound, cause, "approval %s", "a-1")

	if got := err.Error(); got != "not_found: approval a-1: no rows" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}

	bare := New(KindAuthorization, "parent mismatch")
	if got := bare.Error(); got != "authorization: parent mismatch" {
		t.Errorf("Error() = %q", got)
	}
	if errors.Unwrap(bare) != nil {
		t.Error("bare error unwraps to a cause")
	}
}
