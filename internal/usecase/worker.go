package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/moshano/autobot/internal/adapter/observability"
	"github.com/moshano/autobot/internal/domain"
	obsctx "github.com/moshano/autobot/internal/observability"
	"github.com/moshano/autobot/pkg/textx"
)

// SessionFactory opens one isolated browser per alias, with the alias's
// profile and download directories.
type SessionFactory interface {
	NewSession(ctx context.Context, alias string) (domain.BrowserSession, error)
}

// AdapterDeps are the collaborators a bank adapter navigates with. Alias
// tags the adapter's chat prompts so operators know which account is
// asking.
type AdapterDeps struct {
	Alias    string
	Session  domain.BrowserSession
	Solver   domain.CaptchaSolver
	Codes    domain.CodeWaiter
	Notifier domain.Notifier
}

// AdapterFactory builds the navigation adapter for one bank. Unknown banks
// return domain.ErrUnsupportedBank.
type AdapterFactory func(bank domain.Bank, deps AdapterDeps) (domain.BankAdapter, error)

// Worker is one supervision unit: it owns a browser session and drives a
// bank adapter through the login / steady / recovery state machine. All
// retry, screenshot, cancellation and tab handling lives here; the adapter
// contains portal navigation only.
type Worker struct {
	alias string
	bank  domain.Bank
	runID string

	session  domain.BrowserSession
	adapter  domain.BankAdapter
	sink     domain.StatementSink
	notifier domain.Notifier

	// Operational budgets; the domain defaults, narrowed in tests.
	retryPolicy  domain.RetryPolicy
	uploadPolicy domain.RetryPolicy
	steadyEvery  time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc

	mu           sync.Mutex
	cred         domain.Credential
	state        domain.WorkerState
	lastBalance  string
	lastUploadAt time.Time
	startedAt    time.Time
	captchaInbox string
	otpInbox     string
	window       domain.DateWindow
	bankTab      string
	stopReason   string
}

func newWorker(alias string, bank domain.Bank, cred domain.Credential, session domain.BrowserSession, sink domain.StatementSink, notifier domain.Notifier, window domain.DateWindow) *Worker {
	return &Worker{
		alias:    alias,
		bank:     bank,
		runID:    uuid.NewString(),
		session:  session,
		sink:     sink,
		notifier: notifier,

		retryPolicy:  domain.AdapterRetry,
		uploadPolicy: domain.UploadRetry,
		steadyEvery:  domain.SteadyInterval,

		stop: make(chan struct{}),
		done:     make(chan struct{}),
		cred:     cred,
		state:    domain.WorkerInit,
		window:   window,
	}
}

// start launches the worker goroutine. The context is the worker's own and
// dies with the stop signal.
func (w *Worker) start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	lg := slog.Default().With(slog.String("alias", w.alias), slog.String("bank", w.bank.Label), slog.String("run_id", w.runID))
	ctx = obsctx.ContextWithLogger(ctx, lg)
	ctx = obsctx.ContextWithAlias(ctx, w.alias)
	w.mu.Lock()
	w.startedAt = time.Now()
	w.mu.Unlock()
	go w.run(ctx)
}

// Status returns the read-only snapshot queries observe.
func (w *Worker) Status() domain.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return domain.WorkerStatus{
		Alias:        w.alias,
		Bank:         w.bank.Label,
		State:        w.state,
		LastBalance:  w.lastBalance,
		LastUploadAt: w.lastUploadAt,
		StartedAt:    w.startedAt,
		RunID:        w.runID,
	}
}

// Alive reports whether the worker is in a non-terminal state.
func (w *Worker) Alive() bool { return w.Status().Alive() }

// Done closes when the worker goroutine has fully exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Stop fires the one-shot stop signal and quits the browser session so any
// in-flight driver call is interrupted. Safe to call more than once; the
// first reason wins.
func (w *Worker) Stop(reason string) {
	w.stopOnce.Do(func() {
		if reason == "" {
			reason = "user request"
		}
		w.mu.Lock()
		w.stopReason = reason
		w.mu.Unlock()
		close(w.stop)
		if w.cancel != nil {
			w.cancel()
		}
		go func() { _ = w.session.Quit(context.Background()) }()
	})
}

func (w *Worker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Credential returns a value copy of the current snapshot.
func (w *Worker) Credential() domain.Credential {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cred
}

// PatchCredential hot-swaps one snapshot field in place. It takes full
// effect on the next login.
func (w *Worker) PatchCredential(field, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch field {
	case "login_id":
		w.cred.LoginID = value
	case "user_id":
		w.cred.UserID = value
	case "password":
		w.cred.Password = value
	case "account_number":
		w.cred.AccountNumber = value
	}
}

// SupplyCaptcha places externally-supplied CAPTCHA text in the inbox,
// replacing any unconsumed value.
func (w *Worker) SupplyCaptcha(text string) {
	w.mu.Lock()
	w.captchaInbox = text
	w.mu.Unlock()
}

// SupplyOTP places an externally-supplied OTP in the inbox.
func (w *Worker) SupplyOTP(code string) {
	w.mu.Lock()
	w.otpInbox = code
	w.mu.Unlock()
}

func (w *Worker) takeCaptcha() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.captchaInbox == "" {
		return "", false
	}
	code := w.captchaInbox
	w.captchaInbox = ""
	return code, true
}

func (w *Worker) takeOTP() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.otpInbox == "" {
		return "", false
	}
	code := w.otpInbox
	w.otpInbox = ""
	return code, true
}

// WaitCaptcha blocks until CAPTCHA text arrives in the inbox, polling with
// stop checks. Part of domain.CodeWaiter.
func (w *Worker) WaitCaptcha(ctx domain.Context, timeout time.Duration) (string, error) {
	return w.waitCode(ctx, timeout, w.takeCaptcha)
}

// WaitOTP blocks until an OTP arrives in the inbox.
func (w *Worker) WaitOTP(ctx domain.Context, timeout time.Duration) (string, error) {
	return w.waitCode(ctx, timeout, w.takeOTP)
}

func (w *Worker) waitCode(ctx context.Context, timeout time.Duration, take func() (string, bool)) (string, error) {
	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(domain.CodePollInterval)
	defer tick.Stop()
	for {
		if code, ok := take(); ok {
			return code, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no code within %s: %w", timeout, domain.ErrWaitTimeout)
		}
		select {
		case <-w.stop:
			return "", domain.ErrStopped
		case <-ctx.Done():
			return "", ctx.Err()
		case <-tick.C:
		}
	}
}

func (w *Worker) setState(s domain.WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) setBalance(bal string) {
	w.mu.Lock()
	w.lastBalance = bal
	w.mu.Unlock()
}

func (w *Worker) markUploaded() {
	w.mu.Lock()
	if now := time.Now(); now.After(w.lastUploadAt) {
		w.lastUploadAt = now
	}
	w.mu.Unlock()
}

func (w *Worker) setBankTab(handle string) {
	w.mu.Lock()
	w.bankTab = handle
	w.mu.Unlock()
}

func (w *Worker) bankTabHandle() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bankTab
}

func (w *Worker) reason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopReason
}

func (w *Worker) emit(kind domain.EventKind, text string, photos [][]byte) {
	w.notifier.Notify(context.Background(), domain.Event{
		Kind:   kind,
		Alias:  w.alias,
		Text:   text,
		Photos: photos,
		At:     time.Now(),
	})
}

// sleep waits for d, waking immediately when the stop signal fires.
// Returns false when stopped.
func (w *Worker) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.stop:
		return false
	case <-t.C:
		return true
	}
}

// run is the worker state machine. It exits only through shutdown.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.shutdown(ctx)

	lg := obsctx.LoggerFromContext(ctx)
	if tabs, err := w.session.Tabs(ctx); err == nil && len(tabs) > 0 {
		w.setBankTab(tabs[0])
	}

	outerFailures := 0
	for {
		if w.stopped() {
			return
		}
		w.setState(domain.WorkerLoggingIn)
		lg.Info("logging in")
		if err := w.withRetries(ctx, "login", func(c context.Context) error {
			return w.adapter.Login(c, w.Credential())
		}); err != nil {
			if w.stopped() || errors.Is(err, domain.ErrStopped) {
				return
			}
			outerFailures++
			lg.Warn("login failed", slog.Int("outer_failures", outerFailures), slog.String("error", err.Error()))
			if outerFailures > domain.MaxOuterFailures {
				w.Stop(fmt.Sprintf("failure budget exhausted (%d consecutive)", outerFailures))
				return
			}
			if !w.tabReset(ctx) {
				return
			}
			continue
		}
		w.setState(domain.WorkerSteady)
		w.emit(domain.EventStart, fmt.Sprintf("started %s, account %s", w.bank.Label, textx.MaskTail(w.Credential().AccountNumber, 4)), nil)
		lg.Info("steady state entered")

		if !w.steadyLoop(ctx, &outerFailures) {
			return
		}
		// Fell out of steady for recovery; back to login.
	}
}

// steadyLoop runs fetch-upload-balance cycles until the worker must
// re-login (returns true) or stop (returns false).
func (w *Worker) steadyLoop(ctx context.Context, outerFailures *int) bool {
	lg := obsctx.LoggerFromContext(ctx)
	for {
		if w.stopped() {
			return false
		}
		if det, ok := w.adapter.(domain.LogoutDetector); ok {
			if out, err := det.DetectLoggedOut(ctx); err == nil && out {
				w.emit(domain.EventInfo, "portal logged the session out, re-entering login", nil)
				w.setState(domain.WorkerRecovering)
				return w.tabReset(ctx)
			}
		}

		err := w.cycle(ctx)
		switch {
		case err == nil:
			*outerFailures = 0
			if !w.sleep(w.steadyEvery) {
				return false
			}
		case errors.Is(err, domain.ErrStopped):
			return false
		case errors.Is(err, domain.ErrLoggedOut):
			w.emit(domain.EventInfo, "portal logged the session out, re-entering login", nil)
			w.setState(domain.WorkerRecovering)
			return w.tabReset(ctx)
		default:
			if w.stopped() {
				return false
			}
			*outerFailures++
			lg.Warn("statement cycle failed", slog.Int("outer_failures", *outerFailures), slog.String("error", err.Error()))
			if *outerFailures > domain.MaxOuterFailures {
				w.Stop(fmt.Sprintf("failure budget exhausted (%d consecutive)", *outerFailures))
				return false
			}
			w.setState(domain.WorkerRecovering)
			return w.tabReset(ctx)
		}
	}
}

// cycle is one steady iteration: fetch the statement, upload it, read the
// balance. The balance read is best-effort and never fails the cycle.
func (w *Worker) cycle(ctx context.Context) error {
	cred := w.Credential()
	win := w.window
	if win.IsZero() {
		win = domain.WindowFor(time.Now(), w.bank.CutoverHour)
	}

	var file string
	if err := w.withRetries(ctx, "fetch_statement", func(c context.Context) error {
		var err error
		file, err = w.adapter.FetchStatement(c, cred, win)
		return err
	}); err != nil {
		return err
	}

	if err := w.uploadStatement(ctx, cred, file); err != nil {
		return err
	}

	if err := w.withRetries(ctx, "read_balance", func(c context.Context) error {
		bal, err := w.adapter.ReadBalance(c, cred)
		if err != nil {
			return err
		}
		if bal != "" {
			w.setBalance(bal)
			w.emit(domain.EventInfo, "balance: "+bal, nil)
		}
		return nil
	}); err != nil && !errors.Is(err, domain.ErrStopped) {
		obsctx.LoggerFromContext(ctx).Warn("balance read skipped", slog.String("error", err.Error()))
	}

	observability.CycleCompleted(w.bank.Label)
	return nil
}

// uploadStatement runs the sink sub-protocol: a dedicated second tab, up to
// five attempts two seconds apart, then every tab but the bank tab closed.
func (w *Worker) uploadStatement(ctx context.Context, cred domain.Credential, file string) error {
	upTab, err := w.session.NewTab(ctx)
	if err != nil {
		return fmt.Errorf("op=worker.upload: open upload tab: %w", err)
	}
	if err := w.session.SwitchTab(ctx, upTab); err != nil {
		return fmt.Errorf("op=worker.upload: %w", err)
	}

	start := time.Now()
	attempt := 0
	op := func() error {
		if w.stopped() {
			return backoff.Permanent(domain.ErrStopped)
		}
		return w.sink.Upload(ctx, w.session, w.bank, cred.AccountNumber, file)
	}
	notify := func(err error, _ time.Duration) {
		attempt++
		w.emit(domain.EventError, fmt.Sprintf("upload attempt %d/%d failed: %v", attempt, w.uploadPolicy.MaxAttempts, err), nil)
	}
	pol := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.uploadPolicy.Delay), uint64(w.uploadPolicy.MaxAttempts-1)),
		ctx,
	)
	uploadErr := backoff.RetryNotify(op, pol, notify)

	bankTab := w.bankTabHandle()
	if uploadErr != nil {
		_ = w.session.CloseTab(ctx, upTab)
		_ = w.session.SwitchTab(ctx, bankTab)
		if errors.Is(uploadErr, domain.ErrStopped) {
			return domain.ErrStopped
		}
		observability.UploadFailed(w.bank.Label)
		w.emit(domain.EventError, fmt.Sprintf("upload gave up after %d attempts: %v", w.uploadPolicy.MaxAttempts, uploadErr), nil)
		return fmt.Errorf("op=worker.upload: %v: %w", uploadErr, domain.ErrUploadFailed)
	}

	if tabs, err := w.session.Tabs(ctx); err == nil {
		for _, h := range tabs {
			if h != bankTab {
				_ = w.session.CloseTab(ctx, h)
			}
		}
	}
	_ = w.session.SwitchTab(ctx, bankTab)
	w.markUploaded()
	observability.UploadSucceeded(w.bank.Label, time.Since(start))
	w.emit(domain.EventUploadOK, "statement uploaded: "+filepath.Base(file), nil)
	return nil
}

// withRetries wraps one adapter operation with the shared attempt budget.
// Between attempts it screenshots every tab and emits an ERROR event; a
// rejected CAPTCHA during login also resets the tabs so the next attempt
// starts clean.
func (w *Worker) withRetries(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	call := func() error {
		if w.stopped() {
			return backoff.Permanent(domain.ErrStopped)
		}
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrStopped), errors.Is(err, domain.ErrLoggedOut):
			return backoff.Permanent(err)
		default:
			return err
		}
	}
	notify := func(err error, _ time.Duration) {
		attempt++
		observability.AdapterFailed(w.bank.Label, op)
		photos := w.captureTabs(ctx)
		w.emit(domain.EventError,
			fmt.Sprintf("%s %s attempt %d/%d failed: %v", w.bank.Label, op, attempt, w.retryPolicy.MaxAttempts, err),
			photos)
		if op == "login" && errors.Is(err, domain.ErrCaptchaWrong) {
			w.tabReset(ctx)
		}
	}
	pol := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.retryPolicy.Delay), uint64(w.retryPolicy.MaxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(call, pol, notify)
	if err != nil && !errors.Is(err, domain.ErrStopped) && attempt >= w.retryPolicy.MaxAttempts-1 {
		// The budget's last failure has no retry to announce it; report it
		// the same way the intermediate ones were.
		observability.AdapterFailed(w.bank.Label, op)
		w.emit(domain.EventError,
			fmt.Sprintf("%s %s failed after %d attempts: %v", w.bank.Label, op, w.retryPolicy.MaxAttempts, err),
			w.captureTabs(ctx))
	}
	return err
}

// tabReset escapes a corrupt browser state: open one fresh blank tab, close
// every prior tab, keep the fresh one, clear both inboxes, back to
// LoggingIn. A driver that cannot produce a tab stops the worker.
func (w *Worker) tabReset(ctx context.Context) bool {
	w.mu.Lock()
	w.captchaInbox = ""
	w.otpInbox = ""
	w.mu.Unlock()

	fresh, err := w.session.NewTab(ctx)
	if err != nil {
		w.Stop("browser could not open a fresh tab")
		return false
	}
	if old, err := w.session.Tabs(ctx); err == nil {
		for _, h := range old {
			if h != fresh {
				_ = w.session.CloseTab(ctx, h)
			}
		}
	}
	_ = w.session.SwitchTab(ctx, fresh)
	w.setBankTab(fresh)
	w.setState(domain.WorkerLoggingIn)
	return true
}

// captureTabs screenshots every open tab, returning whatever it could get.
func (w *Worker) captureTabs(ctx context.Context) [][]byte {
	if w.stopped() {
		return nil
	}
	tabs, err := w.session.Tabs(ctx)
	if err != nil {
		return nil
	}
	var shots [][]byte
	for _, h := range tabs {
		if err := w.session.SwitchTab(ctx, h); err != nil {
			continue
		}
		if png, err := w.session.Screenshot(ctx); err == nil {
			shots = append(shots, png)
		}
	}
	if bank := w.bankTabHandle(); bank != "" {
		_ = w.session.SwitchTab(ctx, bank)
	}
	return shots
}

// screenshotAllTabs captures every tab and emits them as one INFO event.
// Used by the supervisor's status operation.
func (w *Worker) screenshotAllTabs(ctx context.Context, reason string) {
	photos := w.captureTabs(ctx)
	w.emit(domain.EventInfo, "screenshots: "+reason, photos)
}

// shutdown finishes the worker's life: terminal state, session closed,
// STOP event.
func (w *Worker) shutdown(ctx context.Context) {
	w.Stop("worker loop exited")
	w.setState(domain.WorkerStopped)
	_ = w.session.Quit(context.WithoutCancel(ctx))
	reason := w.reason()
	w.emit(domain.EventStop, "stopped: "+reason, nil)
	label := "failure"
	if reason == "user request" {
		label = "requested"
	}
	observability.WorkerStopped(w.bank.Label, label)
}
