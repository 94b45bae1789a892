package domain

import "testing"

func TestParseBalanceAmount(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		amount float64
		ok     bool
	}{
		{"plain", "12345.67", 12345.67, true},
		{"rupee symbol", "₹12,345.67", 12345.67, true},
		{"inr prefix", "INR 45,000", 45000, true},
		{"inr lowercase", "inr 45,000.50", 45000.50, true},
		{"dollar", "$1,000.00", 1000, true},
		{"euro", "€99.99", 99.99, true},
		{"pound", "£5", 5, true},
		{"trailing cr", "72,500.00 CR", 72500, true},
		{"trailing dr", "72,500.00 Dr", 72500, true},
		{"trailing credit", "1,000 CREDIT", 1000, true},
		{"trailing debit", "1,000 debit", 1000, true},
		{"embedded text", "Available balance is 500 only", 500, true},
		{"integer", "100000", 100000, true},
		{"whitespace", "  9 999 ", 9999, true},
		{"empty", "", 0, false},
		{"no number", "N/A", 0, false},
		{"only currency", "₹", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseBalanceAmount(tt.input)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v for %q, got %v", tt.ok, tt.input, ok)
			}
			if ok && got != tt.amount {
				t.Errorf("Expected %v for %q, got %v", tt.amount, tt.input, got)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   float64
		expected string
	}{
		{72500, "72,500.00"},
		{100, "100.00"},
		{1234567.5, "1,234,567.50"},
		{0, "0.00"},
		{999, "999.00"},
		{1000, "1,000.00"},
		{-1234.5, "-1,234.50"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatAmount(tt.amount); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}
