package domain

import "fmt"

type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyLowMedium Urgency = "low-medium"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyCritical  Urgency = "critical"
)

// Emoji is the marker prefixed to alert messages for this urgency.
func (u Urgency) Emoji() string {
	switch u {
	case UrgencyLow:
		return "⚠️"
	case UrgencyLowMedium:
		return "⚠️"
	case UrgencyMedium:
		return "🟠"
	case UrgencyHigh:
		return "🔴"
	case UrgencyCritical:
		return "🚨"
	default:
		return "⚠️"
	}
}

// Threshold is one rung of the balance alert ladder.
type Threshold struct {
	Amount  float64
	Urgency Urgency
	Action  string
}

// Ladder is an ordered list of thresholds with strictly ascending amounts,
// fixed at startup.
type Ladder []Threshold

// DefaultLadder is the built-in INR ladder.
func DefaultLadder() Ladder {
	return Ladder{
		{Amount: 50_000, Urgency: UrgencyLow, Action: "Plan a settlement today."},
		{Amount: 60_000, Urgency: UrgencyLowMedium, Action: "Settle within the next few hours."},
		{Amount: 70_000, Urgency: UrgencyMedium, Action: "Settle soon; balance is building up."},
		{Amount: 90_000, Urgency: UrgencyHigh, Action: "Settle now; approaching the hard limit."},
		{Amount: 100_000, Urgency: UrgencyCritical, Action: "Settle immediately; hard limit reached."},
	}
}

// Validate checks the ladder is non-empty with strictly ascending amounts.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("ladder empty: %w", ErrInvalidArgument)
	}
	for i, t := range l {
		if t.Amount <= 0 {
			return fmt.Errorf("ladder amount %v at index %d: %w", t.Amount, i, ErrInvalidArgument)
		}
		if i > 0 && t.Amount <= l[i-1].Amount {
			return fmt.Errorf("ladder not strictly ascending at index %d: %w", i, ErrInvalidArgument)
		}
	}
	return nil
}

// Highest returns the highest threshold with Amount <= balance.
func (l Ladder) Highest(balance float64) (Threshold, bool) {
	var hit Threshold
	var ok bool
	for _, t := range l {
		if balance >= t.Amount {
			hit, ok = t, true
		}
	}
	return hit, ok
}

// Floor is the lowest ladder amount; balances below it clear alert state.
func (l Ladder) Floor() float64 {
	if len(l) == 0 {
		return 0
	}
	return l[0].Amount
}
