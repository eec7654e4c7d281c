package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestControlError_Error(t *testing.T) {
	err := &ControlError{
		Category: ErrCategorySession,
		Code:     "invalid_session",
		Message:  "session token unknown",
	}
	if err.Error() != "session token unknown" {
		t.Errorf("Error() = %q", err.Error())
	}

	withCause := err.WithCause(errors.New("token gone"))
	if withCause.Error() != "session token unknown: token gone" {
		t.Errorf("Error() with cause = %q", withCause.Error())
	}
}

func TestControlError_IsMatchesByCode(t *testing.T) {
	wrapped := ErrDeviceLocked.WithCause(errors.New("pid 42 holds it"))
	if !errors.Is(wrapped, ErrDeviceLocked) {
		t.Error("wrapped copy does not match the predefined value")
	}
	if errors.Is(wrapped, ErrInvalidSession) {
		t.Error("distinct codes compare equal")
	}

	// Double wrapping through fmt still matches.
	double := fmt.Errorf("operation failed: %w", wrapped)
	if !errors.Is(double, ErrDeviceLocked) {
		t.Error("fmt-wrapped copy does not match")
	}
}

func TestControlError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := ErrIOFailed.WithCause(cause)
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestControlError_WithDetailsMerges(t *testing.T) {
	base := ErrBootTimeout.WithDetails(map[string]interface{}{"deviceId": "x"})
	merged := base.WithDetails(map[string]interface{}{"attempts": 10})

	if merged.Details["deviceId"] != "x" || merged.Details["attempts"] != 10 {
		t.Errorf("Details = %v", merged.Details)
	}
	// The base copy is unchanged.
	if _, ok := base.Details["attempts"]; ok {
		t.Error("WithDetails mutated the receiver")
	}
}

func TestControlError_WithMessage(t *testing.T) {
	err := ErrArgument.WithMessage("path must be non-empty")
	if err.Error() != "path must be non-empty" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrArgument) {
		t.Error("WithMessage broke code identity")
	}
}

func TestPredefined_CategoriesAndCodes(t *testing.T) {
	tests := []struct {
		err      *ControlError
		category ErrorCategory
		code     string
	}{
		{ErrInvalidSession, ErrCategorySession, "invalid_session"},
		{ErrSessionActive, ErrCategorySession, "session_already_active"},
		{ErrDeviceLocked, ErrCategoryLock, "device_locked"},
		{ErrDeviceNotBooted, ErrCategoryState, "device_not_booted"},
		{ErrDeviceNotReady, ErrCategoryState, "device_not_ready"},
		{ErrDeviceAlreadyBooted, ErrCategoryState, "device_already_booted"},
		{ErrIllegalTransition, ErrCategoryState, "illegal_transition"},
		{ErrBootTimeout, ErrCategoryBoot, "boot_timeout"},
		{ErrLaunchFailed, ErrCategoryApp, "launch_failed"},
		{ErrDriverInvalid, ErrCategoryDriver, "driver_invalid"},
		{ErrSpawnFailed, ErrCategoryProcess, "spawn_failed"},
		{ErrNonZeroExit, ErrCategoryProcess, "non_zero_exit"},
		{ErrIOFailed, ErrCategoryIO, "io_failed"},
		{ErrArgument, ErrCategoryArgument, "argument_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("category = %s, want %s", tt.err.Category, tt.category)
			}
			if tt.err.Code != tt.code {
				t.Errorf("code = %s, want %s", tt.err.Code, tt.code)
			}
		})
	}
}
