package domain

import (
	"errors"
	"testing"
)

func TestDefaultLadder(t *testing.T) {
	l := DefaultLadder()
	if err := l.Validate(); err != nil {
		t.Fatalf("Expected default ladder to validate, got %v", err)
	}
	amounts := []float64{50_000, 60_000, 70_000, 90_000, 100_000}
	if len(l) != len(amounts) {
		t.Fatalf("Expected %d rungs, got %d", len(amounts), len(l))
	}
	for i, a := range amounts {
		if l[i].Amount != a {
			t.Errorf("Expected rung %d amount %v, got %v", i, a, l[i].Amount)
		}
	}
	if l[0].Urgency != UrgencyLow || l[len(l)-1].Urgency != UrgencyCritical {
		t.Errorf("Expected low..critical ordering, got %v..%v", l[0].Urgency, l[len(l)-1].Urgency)
	}
}

func TestLadderValidate(t *testing.T) {
	tests := []struct {
		name   string
		ladder Ladder
		ok     bool
	}{
		{"ascending", Ladder{{Amount: 1}, {Amount: 2}}, true},
		{"empty", Ladder{}, false},
		{"equal amounts", Ladder{{Amount: 5}, {Amount: 5}}, false},
		{"descending", Ladder{{Amount: 5}, {Amount: 4}}, false},
		{"zero amount", Ladder{{Amount: 0}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ladder.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid, got %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("Expected error")
				}
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("Expected ErrInvalidArgument, got %v", err)
				}
			}
		})
	}
}

func TestLadderHighest(t *testing.T) {
	l := DefaultLadder()
	tests := []struct {
		balance float64
		amount  float64
		ok      bool
	}{
		{49_999.99, 0, false},
		{50_000, 50_000, true},
		{72_500, 70_000, true},
		{90_000, 90_000, true},
		{250_000, 100_000, true},
		{0, 0, false},
	}

	for _, tt := range tests {
		hit, ok := l.Highest(tt.balance)
		if ok != tt.ok {
			t.Fatalf("Expected ok=%v for %v, got %v", tt.ok, tt.balance, ok)
		}
		if ok && hit.Amount != tt.amount {
			t.Errorf("Expected amount %v for balance %v, got %v", tt.amount, tt.balance, hit.Amount)
		}
	}
}

func TestLadderFloor(t *testing.T) {
	if got := DefaultLadder().Floor(); got != 50_000 {
		t.Errorf("Expected floor 50000, got %v", got)
	}
	if got := (Ladder{}).Floor(); got != 0 {
		t.Errorf("Expected empty floor 0, got %v", got)
	}
}
