package domain

import (
	"errors"
	"testing"
)

func TestLabelFromAlias(t *testing.T) {
	tests := []struct {
		alias    string
		expected string
	}{
		{"acme_tmb", "TMB"},
		{"shop1_iob", "IOB"},
		{"shop1_iobcorp", "IOB CORPORATE"},
		{"agent_kgb", "KGB"},
		{"xyz_idbi", "IDBI"},
		{"xyz_idfc", "IDFC"},
		{"abc_canara", "CANARA"},
		{"abc_cnrb", "CANARA"},
		{"UPPER_TMB", "TMB"},
		{"weird_hdfc", "HDFC"},
		{"nosuffix", "NOSUFFIX"},
		{"two_part_sbi", "SBI"},
	}

	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			if got := LabelFromAlias(tt.alias); got != tt.expected {
				t.Errorf("Expected LabelFromAlias(%q) to be %q, got %q", tt.alias, tt.expected, got)
			}
		})
	}
}

func TestCanonicalBankLabel(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"tmb", "TMB"},
		{"  Indian   Overseas Bank ", "IOB"},
		{"IOB Corp", "IOB CORPORATE"},
		{"cnrb", "CANARA"},
		{"Canara Bank", "CANARA"},
		{"Kerala Gramin Bank", "KGB"},
		{"Tamilnad Mercantile Bank", "TMB"},
		{"S & B", "S AND B"},
		{"idfc", "IDFC"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := CanonicalBankLabel(tt.raw); got != tt.expected {
				t.Errorf("Expected CanonicalBankLabel(%q) to be %q, got %q", tt.raw, tt.expected, got)
			}
		})
	}
}

func TestBankByLabel(t *testing.T) {
	b, err := BankByLabel("Indian Overseas Bank")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if b.Label != "IOB" {
		t.Errorf("Expected IOB, got %q", b.Label)
	}
	if b.CutoverHour != 6 {
		t.Errorf("Expected IOB cutover 6, got %d", b.CutoverHour)
	}

	if _, err := BankByLabel("HDFC"); !errors.Is(err, ErrUnsupportedBank) {
		t.Errorf("Expected ErrUnsupportedBank, got %v", err)
	}
}

func TestBankCutoverHours(t *testing.T) {
	tests := []struct {
		bank    Bank
		cutover int
	}{
		{BankTMB, 5},
		{BankIDBI, 5},
		{BankIDFC, 5},
		{BankCanara, 5},
		{BankIOB, 6},
		{BankIOBCorporate, 6},
		{BankKGB, 6},
	}

	for _, tt := range tests {
		t.Run(tt.bank.Label, func(t *testing.T) {
			if tt.bank.CutoverHour != tt.cutover {
				t.Errorf("Expected %s cutover %d, got %d", tt.bank.Label, tt.cutover, tt.bank.CutoverHour)
			}
		})
	}
}

func TestBankSinkLabels(t *testing.T) {
	tests := []struct {
		bank  Bank
		label string
	}{
		{BankKGB, "Kerala Gramin Bank"},
		{BankCanara, "Canara Bank"},
		{BankIDBI, "IDBI"},
		{BankIOB, "IOB"},
		{BankIOBCorporate, "IOB"},
		{BankIDFC, "IDFC"},
		{BankTMB, "TMB"},
	}

	for _, tt := range tests {
		t.Run(tt.bank.Label, func(t *testing.T) {
			if tt.bank.SinkLabel != tt.label {
				t.Errorf("Expected %s sink label %q, got %q", tt.bank.Label, tt.label, tt.bank.SinkLabel)
			}
		})
	}
}
