package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Classified(t *testing.T) {
	err := New(KindForbidden, "incorrect code")
	if got := KindOf(err); got != KindForbidden {
		t.Errorf("KindOf() = %v, want KindForbidden", got)
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("subscribe: %w", Wrap(KindInfrastructure, "store unavailable", cause))

	if got := KindOf(err); got != KindInfrastructure {
		t.Errorf("KindOf() = %v, want KindInfrastructure", got)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
}

func TestKindOf_UnclassifiedDefaultsToInfrastructure(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInfrastructure {
		t.Errorf("KindOf(plain error) = %v, want KindInfrastructure", got)
	}
}

func TestWrap_NilCause(t *testing.T) {
	if Wrap(KindValidation, "x", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestIsKind(t *testing.T) {
	err := New(KindConflict, "already subscribed")
	if !IsKind(err, KindConflict) {
		t.Error("IsKind should match the carried kind")
	}
	if IsKind(err, KindNotFound) {
		t.Error("IsKind should not match a different kind")
	}
}
