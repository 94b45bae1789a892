// Package domain defines the operational budgets shared by the worker
// runtime, messenger and monitor so every layer retries, sleeps and times
// out with the same numbers.
package domain

import "time"

// RetryPolicy is a fixed attempt budget with a constant delay between
// attempts.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

var (
	// AdapterRetry wraps every bank adapter operation: between attempts the
	// runtime screenshots all tabs and emits an ERROR event.
	AdapterRetry = RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second}
	// UploadRetry bounds the statement sink sub-protocol.
	UploadRetry = RetryPolicy{MaxAttempts: 5, Delay: 2 * time.Second}
	// SendRetry bounds one messenger delivery.
	SendRetry = RetryPolicy{MaxAttempts: 3, Delay: 1 * time.Second}
	// CaptchaPoll bounds polling the remote solver for a result.
	CaptchaPoll = RetryPolicy{MaxAttempts: 30, Delay: 5 * time.Second}
)

const (
	// CaptchaWaitTimeout bounds the manual CAPTCHA wait on the chat inbox.
	CaptchaWaitTimeout = 180 * time.Second
	// OTPWaitTimeout bounds the OTP wait on the chat inbox.
	OTPWaitTimeout = 300 * time.Second
	// CodePollInterval is the inbox poll cadence; every wait loop re-checks
	// the stop signal at least this often.
	CodePollInterval = 500 * time.Millisecond

	// SteadyInterval separates successful statement cycles.
	SteadyInterval = 60 * time.Second
	// StopJoinTimeout bounds how long StopWorker waits for the goroutine to
	// exit before force-removing the registry entry.
	StopJoinTimeout = 5 * time.Second
	// MaxOuterFailures is the consecutive-cycle failure budget; exceeding it
	// stops the worker.
	MaxOuterFailures = 5

	// StaleUploadAfter marks a worker stale in ListActive.
	StaleUploadAfter = 5 * time.Minute
	// AlertRepeatInterval is the minimum gap between repeated alerts for the
	// same alias.
	AlertRepeatInterval = 300 * time.Second
	// BatchFlushInterval is the messenger's non-critical flush cadence.
	BatchFlushInterval = 60 * time.Second
	// SendDropAfter is the consecutive send-failure count after which the
	// messenger drops messages until a send succeeds.
	SendDropAfter = 5
)
