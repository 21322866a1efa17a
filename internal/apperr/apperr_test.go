package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("load site: %w", NotFound(InvalidSiteToken, "site %q not found", "s1"))

	if !errors.Is(err, ErrNotFound) {
		t.Error("wrapped not-found should match ErrNotFound")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("not-found should not match ErrConflict")
	}
	if !errors.Is(err, &Error{Kind: KindNotFound, Code: InvalidSiteToken}) {
		t.Error("should match same kind and code")
	}
	if errors.Is(err, &Error{Kind: KindNotFound, Code: InvalidZoneToken}) {
		t.Error("should not match a different code")
	}
}

func TestKindAndCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
		code Code
	}{
		{Conflict(DeviceAlreadyAssigned, "busy"), KindConflict, DeviceAlreadyAssigned},
		{fmt.Errorf("ctx: %w", Validation(InvalidRequest, "bad")), KindValidation, InvalidRequest},
		{Persistence(WriteFailed, "insert", errors.New("disk full")), KindPersistence, WriteFailed},
		{errors.New("plain"), "", ""},
		{nil, "", ""},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.kind {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.kind)
		}
		if got := CodeOf(tt.err); got != tt.code {
			t.Errorf("CodeOf(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}
}

func TestPersistenceKeepsDomainErrors(t *testing.T) {
	inner := Conflict(DeviceAlreadyAssigned, "device %q is already assigned", "HW-1")
	if got := Persistence(WriteFailed, "commit", inner); got != error(inner) {
		t.Errorf("Persistence rewrapped a domain error: %v", got)
	}
	if Persistence(WriteFailed, "commit", nil) != nil {
		t.Error("Persistence(nil) should be nil")
	}

	cause := errors.New("disk full")
	err := Persistence(WriteFailed, "insert devices", cause)
	if !errors.Is(err, cause) {
		t.Error("persistence error should unwrap to its cause")
	}
	if err.Error() != "insert devices: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestErrorMessageFallsBackToCode(t *testing.T) {
	err := &Error{Kind: KindNotFound, Code: InvalidEventID}
	if err.Error() != string(InvalidEventID) {
		t.Errorf("Error() = %q", err.Error())
	}
}
