package domain

import (
	"testing"
)

func TestCredentialAuthID(t *testing.T) {
	tests := []struct {
		name     string
		cred     Credential
		expected string
	}{
		{"username wins", Credential{Username: "u", LoginID: "l", UserID: "id"}, "u"},
		{"login id second", Credential{LoginID: "l", UserID: "id"}, "l"},
		{"user id last", Credential{UserID: "id"}, "id"},
		{"all empty", Credential{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.AuthID(); got != tt.expected {
				t.Errorf("Expected AuthID to be %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestEventKindCritical(t *testing.T) {
	tests := []struct {
		kind     EventKind
		critical bool
	}{
		{EventError, true},
		{EventStart, true},
		{EventStop, true},
		{EventCaptcha, true},
		{EventOTP, true},
		{EventUploadOK, true},
		{EventInfo, false},
		{EventAlert, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Critical(); got != tt.critical {
				t.Errorf("Expected %s Critical() to be %v, got %v", tt.kind, tt.critical, got)
			}
		})
	}
}

func TestWorkerStateTerminal(t *testing.T) {
	for _, s := range []WorkerState{WorkerInit, WorkerLoggingIn, WorkerSteady, WorkerRecovering} {
		if s.Terminal() {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
	if !WorkerStopped.Terminal() {
		t.Error("Expected stopped to be terminal")
	}
}

func TestWorkerStatusAlive(t *testing.T) {
	if (WorkerStatus{State: WorkerStopped}).Alive() {
		t.Error("Expected stopped status to not be alive")
	}
	if !(WorkerStatus{State: WorkerSteady}).Alive() {
		t.Error("Expected steady status to be alive")
	}
}

func TestEditableField(t *testing.T) {
	tests := []struct {
		field    string
		editable bool
	}{
		{"login_id", true},
		{"user_id", true},
		{"password", true},
		{"account_number", true},
		{"alias", false},
		{"username", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			if got := EditableField(tt.field); got != tt.editable {
				t.Errorf("Expected EditableField(%q) to be %v, got %v", tt.field, tt.editable, got)
			}
		})
	}
}
