package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moshano/autobot/internal/adapter/observability"
	"github.com/moshano/autobot/internal/domain"
)

// Supervisor owns the registry of live workers and the in-memory credential
// map. It is the single point of serialization for registry mutation; each
// worker's public fields stay under that worker's own mutex.
type Supervisor struct {
	store    domain.CredentialStore
	sessions SessionFactory
	adapters AdapterFactory
	sink     domain.StatementSink
	solver   domain.CaptchaSolver
	notifier domain.Notifier

	mu       sync.Mutex
	creds    map[string]domain.Credential
	order    []string
	workers  map[string]*Worker
	starting map[string]struct{}
}

// NewSupervisor wires the supervisor with its collaborators. Call
// LoadCredentials before serving commands.
func NewSupervisor(store domain.CredentialStore, sessions SessionFactory, adapters AdapterFactory, sink domain.StatementSink, solver domain.CaptchaSolver, notifier domain.Notifier) *Supervisor {
	return &Supervisor{
		store:    store,
		sessions: sessions,
		adapters: adapters,
		sink:     sink,
		solver:   solver,
		notifier: notifier,
		creds:    map[string]domain.Credential{},
		workers:  map[string]*Worker{},
		starting: map[string]struct{}{},
	}
}

// LoadCredentials (re)builds the in-memory credential map from the store.
func (s *Supervisor) LoadCredentials(ctx context.Context) error {
	creds, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("op=supervisor.LoadCredentials: %w", err)
	}
	byAlias := make(map[string]domain.Credential, len(creds))
	order := make([]string, 0, len(creds))
	for _, c := range creds {
		byAlias[c.Alias] = c
		order = append(order, c.Alias)
	}
	s.mu.Lock()
	s.creds = byAlias
	s.order = order
	s.mu.Unlock()
	return nil
}

// Credentials returns store-ordered credential copies.
func (s *Supervisor) Credentials() []domain.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Credential, 0, len(s.order))
	for _, alias := range s.order {
		out = append(out, s.creds[alias])
	}
	return out
}

// CredentialFor looks up one alias in the in-memory copy.
func (s *Supervisor) CredentialFor(alias string) (domain.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[alias]
	return c, ok
}

// StartWorker creates and launches a worker for the alias. The date range
// is honored only by the KGB adapter; other banks follow their cutover
// rule.
func (s *Supervisor) StartWorker(ctx context.Context, alias string, window domain.DateWindow) (domain.WorkerStatus, error) {
	cred, ok := s.CredentialFor(alias)
	if !ok {
		return domain.WorkerStatus{}, fmt.Errorf("alias %q: %w", alias, domain.ErrNotFound)
	}
	bank, err := domain.BankByLabel(cred.BankLabel)
	if err != nil {
		return domain.WorkerStatus{}, err
	}
	if bank.Label != domain.BankKGB.Label {
		window = domain.DateWindow{}
	}

	s.mu.Lock()
	if _, busy := s.starting[alias]; busy {
		s.mu.Unlock()
		return domain.WorkerStatus{}, fmt.Errorf("alias %q: %w", alias, domain.ErrAlreadyRunning)
	}
	if existing, ok := s.workers[alias]; ok {
		if existing.Alive() {
			s.mu.Unlock()
			return domain.WorkerStatus{}, fmt.Errorf("alias %q: %w", alias, domain.ErrAlreadyRunning)
		}
		delete(s.workers, alias)
	}
	s.starting[alias] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.starting, alias)
		s.mu.Unlock()
	}()

	session, err := s.sessions.NewSession(ctx, alias)
	if err != nil {
		return domain.WorkerStatus{}, fmt.Errorf("op=supervisor.StartWorker alias=%s: %w", alias, err)
	}
	w := newWorker(alias, bank, cred, session, s.sink, s.notifier, window)
	adapter, err := s.adapters(bank, AdapterDeps{
		Alias:    alias,
		Session:  session,
		Solver:   s.solver,
		Codes:    w,
		Notifier: s.notifier,
	})
	if err != nil {
		_ = session.Quit(ctx)
		return domain.WorkerStatus{}, fmt.Errorf("op=supervisor.StartWorker alias=%s: %w", alias, err)
	}
	w.adapter = adapter
	w.start()

	s.mu.Lock()
	s.workers[alias] = w
	s.mu.Unlock()
	observability.WorkerStarted(bank.Label)
	slog.Info("worker started", slog.String("alias", alias), slog.String("bank", bank.Label))
	return w.Status(), nil
}

// StopWorker fires the worker's stop signal, joins it with the 5 s
// deadline, and removes it from the registry regardless of whether the
// join made it. A worker that was not running is not an error; the bool
// reports whether anything was stopped.
func (s *Supervisor) StopWorker(ctx context.Context, alias string) (bool, error) {
	s.mu.Lock()
	w, ok := s.workers[alias]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if !w.Alive() {
		s.removeWorker(alias, w)
		return false, nil
	}

	w.Stop("user request")
	var joinErr error
	select {
	case <-w.Done():
	case <-time.After(domain.StopJoinTimeout):
		joinErr = fmt.Errorf("alias %q: worker did not exit within %s, force-removed", alias, domain.StopJoinTimeout)
	case <-ctx.Done():
		joinErr = ctx.Err()
	}
	s.removeWorker(alias, w)
	return true, joinErr
}

func (s *Supervisor) removeWorker(alias string, w *Worker) {
	s.mu.Lock()
	if cur, ok := s.workers[alias]; ok && cur == w {
		delete(s.workers, alias)
	}
	s.mu.Unlock()
}

// StopAll stops every registered worker in parallel and reports per-alias
// failures aggregated into one error.
func (s *Supervisor) StopAll(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	aliases := make([]string, 0, len(s.workers))
	for alias := range s.workers {
		aliases = append(aliases, alias)
	}
	s.mu.Unlock()
	sort.Strings(aliases)

	var (
		g       errgroup.Group
		resMu   sync.Mutex
		stopped []string
		errs    []error
	)
	for _, alias := range aliases {
		g.Go(func() error {
			ok, err := s.StopWorker(ctx, alias)
			resMu.Lock()
			if ok {
				stopped = append(stopped, alias)
			}
			if err != nil {
				errs = append(errs, err)
			}
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(stopped)
	return stopped, errors.Join(errs...)
}

// ListRunning snapshots the alive workers.
func (s *Supervisor) ListRunning() []domain.WorkerStatus {
	return s.statuses(true)
}

func (s *Supervisor) statuses(aliveOnly bool) []domain.WorkerStatus {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	out := make([]domain.WorkerStatus, 0, len(workers))
	for _, w := range workers {
		st := w.Status()
		if aliveOnly && !st.Alive() {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// ActiveStatus is one ListActive row: worker status plus upload freshness.
type ActiveStatus struct {
	domain.WorkerStatus
	HasUpload bool
	Stale     bool
}

// ListActive reports alive workers with their last-upload freshness; a
// worker with no upload for over five minutes is flagged stale.
func (s *Supervisor) ListActive() []ActiveStatus {
	now := time.Now()
	statuses := s.statuses(true)
	out := make([]ActiveStatus, 0, len(statuses))
	for _, st := range statuses {
		row := ActiveStatus{WorkerStatus: st, HasUpload: !st.LastUploadAt.IsZero()}
		row.Stale = !row.HasUpload || now.Sub(st.LastUploadAt) > domain.StaleUploadAfter
		out = append(out, row)
	}
	return out
}

// BalanceReport is one QueryBalance row.
type BalanceReport struct {
	Alias   string
	Bank    string
	Balance string
	Running bool
}

// QueryBalance reports last-known balances. With no aliases given it
// covers every registered worker.
func (s *Supervisor) QueryBalance(aliases []string) []BalanceReport {
	if len(aliases) == 0 {
		for _, st := range s.statuses(false) {
			aliases = append(aliases, st.Alias)
		}
	}
	out := make([]BalanceReport, 0, len(aliases))
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		s.mu.Lock()
		w, ok := s.workers[alias]
		s.mu.Unlock()
		if !ok || !w.Alive() {
			out = append(out, BalanceReport{Alias: alias, Running: false})
			continue
		}
		st := w.Status()
		out = append(out, BalanceReport{Alias: alias, Bank: st.Bank, Balance: st.LastBalance, Running: true})
	}
	return out
}

// StatusScreenshot captures every tab of the alias's worker and emits the
// set through the messenger.
func (s *Supervisor) StatusScreenshot(ctx context.Context, alias, reason string) error {
	s.mu.Lock()
	w, ok := s.workers[alias]
	s.mu.Unlock()
	if !ok || !w.Alive() {
		return fmt.Errorf("alias %q not running: %w", alias, domain.ErrNotFound)
	}
	w.screenshotAllTabs(ctx, reason)
	return nil
}

// EditCredential updates one field in the store, reloads the in-memory
// map, and patches any live worker's snapshot in place. The new value
// takes full effect on the worker's next login.
func (s *Supervisor) EditCredential(ctx context.Context, alias, field, value string) error {
	if !domain.EditableField(field) {
		return fmt.Errorf("field %q not editable: %w", field, domain.ErrInvalidArgument)
	}
	if err := s.store.Update(ctx, alias, field, value); err != nil {
		return err
	}
	if err := s.LoadCredentials(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	w, ok := s.workers[alias]
	s.mu.Unlock()
	if ok && w.Alive() {
		w.PatchCredential(field, value)
	}
	return nil
}

// AddCredential appends a new row to the store and reloads the map.
func (s *Supervisor) AddCredential(ctx context.Context, cred domain.Credential) error {
	if err := s.store.Append(ctx, cred); err != nil {
		return err
	}
	return s.LoadCredentials(ctx)
}

// BroadcastCaptcha delivers CAPTCHA text to every live worker's inbox and
// returns the aliases reached. Only workers currently waiting consume it.
func (s *Supervisor) BroadcastCaptcha(text string) []string {
	return s.broadcast(func(w *Worker) { w.SupplyCaptcha(text) })
}

// BroadcastOTP delivers an OTP to every live worker's inbox.
func (s *Supervisor) BroadcastOTP(code string) []string {
	return s.broadcast(func(w *Worker) { w.SupplyOTP(code) })
}

func (s *Supervisor) broadcast(apply func(*Worker)) []string {
	s.mu.Lock()
	workers := make(map[string]*Worker, len(s.workers))
	for alias, w := range s.workers {
		workers[alias] = w
	}
	s.mu.Unlock()

	var applied []string
	for alias, w := range workers {
		if !w.Alive() {
			continue
		}
		apply(w)
		applied = append(applied, alias)
	}
	sort.Strings(applied)
	return applied
}

// BalanceRow is the monitor's view of one alive worker.
type BalanceRow struct {
	Alias         string
	Bank          string
	AccountNumber string
	Balance       string
}

// AliveBalances snapshots the alive workers for the balance monitor.
func (s *Supervisor) AliveBalances() []BalanceRow {
	statuses := s.statuses(true)
	out := make([]BalanceRow, 0, len(statuses))
	for _, st := range statuses {
		cred, _ := s.CredentialFor(st.Alias)
		out = append(out, BalanceRow{
			Alias:         st.Alias,
			Bank:          st.Bank,
			AccountNumber: cred.AccountNumber,
			Balance:       st.LastBalance,
		})
	}
	return out
}
