package domain

import (
	"errors"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"domain error", Invalid("checkout.start", "unknown plan"), EINVALID},
		{"wrapped domain error", WrapError(errors.New("boom"), ECONFLICT, "auth.signup", "duplicate"), ECONFLICT},
		{"validation error", NewValidationError("auth.signup", "email", "email is required"), EINVALID},
		{"plain error", errors.New("boom"), EINTERNAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage_HidesInternalDetails(t *testing.T) {
	err := Internal(errors.New("pq: connection refused"), "entitlement.get", "failed to get entitlement")

	msg := ErrorMessage(err)
	if msg != "An internal error occurred. Please try again later." {
		t.Errorf("ErrorMessage() = %q, want generic message", msg)
	}
}

func TestErrorMessage_ShowsUserFacingDetails(t *testing.T) {
	err := Invalid("portal.open", "no billing profile for user")

	if msg := ErrorMessage(err); msg != "no billing profile for user" {
		t.Errorf("ErrorMessage() = %q", msg)
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("row not found")
	err := Internal(inner, "user.get", "failed to get user")

	if !errors.Is(err, inner) {
		t.Error("wrapped error should be reachable via errors.Is")
	}
}

func TestValidationError_AccumulatesFields(t *testing.T) {
	err := NewValidationError("auth.signup", "email", "email is required")
	err = AddFieldError(err, "password", "password must be at least 8 characters")

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected *ValidationError")
	}
	if len(ve.Fields) != 2 {
		t.Fatalf("len(Fields) = %d, want 2", len(ve.Fields))
	}
	if ve.Fields["password"] != "password must be at least 8 characters" {
		t.Errorf("unexpected password message: %q", ve.Fields["password"])
	}
}

func TestAddFieldError_NonValidationErrorUnchanged(t *testing.T) {
	err := Invalid("auth.signup", "bad request")

	got := AddFieldError(err, "email", "email is required")
	if got != err {
		t.Error("non-validation error should be returned unchanged")
	}
}
