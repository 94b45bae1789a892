package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorConstants(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ErrInvalidArgument", ErrInvalidArgument, "invalid argument"},
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrConflict", ErrConflict, "conflict"},
		{"ErrAlreadyRunning", ErrAlreadyRunning, "already running"},
		{"ErrUnsupportedBank", ErrUnsupportedBank, "unsupported bank"},
		{"ErrLoggedOut", ErrLoggedOut, "logged out"},
		{"ErrCaptchaWrong", ErrCaptchaWrong, "captcha rejected"},
		{"ErrWaitTimeout", ErrWaitTimeout, "wait timeout"},
		{"ErrUploadFailed", ErrUploadFailed, "upload failed"},
		{"ErrStopped", ErrStopped, "worker stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, tt.err.Error())
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"wrapped logged out", fmt.Errorf("iob: steady check: %w", ErrLoggedOut), ErrLoggedOut},
		{"wrapped conflict", fmt.Errorf("account 1111 already used by foo_tmb: %w", ErrConflict), ErrConflict},
		{"wrapped timeout", fmt.Errorf("captcha wait: %w", ErrWaitTimeout), ErrWaitTimeout},
		{"double wrapped", fmt.Errorf("login: %w", fmt.Errorf("otp: %w", ErrWaitTimeout)), ErrWaitTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("Expected errors.Is(%v, %v) to be true", tt.err, tt.target)
			}
		})
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	all := []error{
		ErrInvalidArgument, ErrNotFound, ErrConflict, ErrAlreadyRunning,
		ErrUnsupportedBank, ErrLoggedOut, ErrCaptchaWrong, ErrWaitTimeout,
		ErrUploadFailed, ErrStopped,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Errorf("Expected %v and %v to be distinct sentinels", a, b)
			}
		}
	}
}
