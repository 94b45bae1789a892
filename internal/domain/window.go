package domain

import "time"

// DateWindow is the statement date range passed to FetchStatement.
type DateWindow struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether the window is unset.
func (w DateWindow) IsZero() bool { return w.From.IsZero() && w.To.IsZero() }

// WindowFor computes the statement window: before the bank's cutover hour
// the window starts on the previous day, otherwise it is today only.
func WindowFor(now time.Time, cutoverHour int) DateWindow {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if now.Hour() < cutoverHour {
		return DateWindow{From: day.AddDate(0, 0, -1), To: day}
	}
	return DateWindow{From: day, To: day}
}
