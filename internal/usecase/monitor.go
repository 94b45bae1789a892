package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/moshano/autobot/internal/adapter/observability"
	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/pkg/textx"
)

// BalanceSource is the monitor's read-only view of the registry.
type BalanceSource interface {
	AliveBalances() []BalanceRow
}

type alertState struct {
	lastAlertAt time.Time
	triggered   map[float64]struct{}
}

// Monitor periodically scans alive workers' balances against the threshold
// ladder and fans alerts out to the alert destinations. One goroutine,
// started at process init.
type Monitor struct {
	source    BalanceSource
	transport domain.ChatTransport
	targets   []int64
	ladder    domain.Ladder
	interval  time.Duration
	repeat    time.Duration
	now       func() time.Time

	mu     sync.Mutex
	states map[string]*alertState
}

// NewMonitor builds the monitor. The tick interval is expected to be
// pre-clamped by config; targets are the alert destinations.
func NewMonitor(source BalanceSource, transport domain.ChatTransport, targets []int64, ladder domain.Ladder, interval time.Duration) *Monitor {
	return &Monitor{
		source:    source,
		transport: transport,
		targets:   targets,
		ladder:    ladder,
		interval:  interval,
		repeat:    domain.AlertRepeatInterval,
		now:       time.Now,
		states:    map[string]*alertState{},
	}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("balance monitor started",
		slog.Duration("interval", m.interval),
		slog.Duration("repeat", m.repeat),
		slog.Int("targets", len(m.targets)))
	tick := time.NewTicker(m.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("balance monitor stopped")
			return
		case <-tick.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one scan over the alive workers. Exported so commands and
// tests can force a scan.
func (m *Monitor) Tick(ctx context.Context) {
	for _, row := range m.source.AliveBalances() {
		amount, ok := domain.ParseBalanceAmount(row.Balance)
		if !ok {
			// Unparseable balances are ignored silently.
			continue
		}
		threshold, crossed := m.ladder.Highest(amount)
		if !crossed {
			m.clear(row.Alias)
			continue
		}
		m.alert(ctx, row, amount, threshold)
	}
}

// clear drops the alias's alert state once its balance is below the whole
// ladder.
func (m *Monitor) clear(alias string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[alias]; ok {
		delete(m.states, alias)
		slog.Info("balance below ladder, alerts auto-cleared", slog.String("alias", alias))
	}
}

func (m *Monitor) alert(ctx context.Context, row BalanceRow, amount float64, threshold domain.Threshold) {
	now := m.now()

	m.mu.Lock()
	st, ok := m.states[row.Alias]
	if !ok {
		st = &alertState{triggered: map[float64]struct{}{}}
		m.states[row.Alias] = st
	}
	isRepeat := !st.lastAlertAt.IsZero()
	due := !isRepeat || now.Sub(st.lastAlertAt) >= m.repeat
	m.mu.Unlock()
	if !due {
		return
	}

	msg := renderAlert(row, amount, threshold, isRepeat, now)
	delivered := false
	for _, target := range m.targets {
		if err := m.transport.SendMessage(ctx, target, msg); err != nil {
			slog.Warn("balance alert send failed",
				slog.String("alias", row.Alias), slog.Int64("chat_id", target), slog.String("error", err.Error()))
			continue
		}
		delivered = true
	}
	if !delivered {
		// Leave lastAlertAt untouched so the next tick retries.
		return
	}

	m.mu.Lock()
	st.lastAlertAt = now
	st.triggered[threshold.Amount] = struct{}{}
	m.mu.Unlock()
	observability.AlertEmitted(string(threshold.Urgency))
	slog.Info("balance alert sent",
		slog.String("alias", row.Alias),
		slog.Float64("balance", amount),
		slog.Float64("threshold", threshold.Amount),
		slog.Bool("repeat", isRepeat))
}

func renderAlert(row BalanceRow, amount float64, threshold domain.Threshold, isRepeat bool, now time.Time) string {
	head := fmt.Sprintf("%s Balance alert (%s)", threshold.Urgency.Emoji(), threshold.Urgency)
	if isRepeat {
		head += " — repeat"
	}
	return fmt.Sprintf(
		"%s\nAlias: %s\nBank: %s\nAccount: %s\nBalance: ₹%s\nThreshold: ₹%s (excess ₹%s)\nTime: %s\nAction: %s",
		head,
		row.Alias,
		row.Bank,
		textx.MaskTail(row.AccountNumber, 4),
		domain.FormatAmount(amount),
		domain.FormatAmount(threshold.Amount),
		domain.FormatAmount(amount-threshold.Amount),
		now.Format("02/01/2006 15:04:05"),
		threshold.Action,
	)
}

// ResetAlerts clears the alias's alert state; it reports whether anything
// was tracked.
func (m *Monitor) ResetAlerts(alias string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[alias]; !ok {
		return false
	}
	delete(m.states, alias)
	return true
}

// ResetAll clears every alias's alert state and returns how many were
// tracked.
func (m *Monitor) ResetAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.states)
	m.states = map[string]*alertState{}
	return n
}

// MonitorStatus is the /alerts snapshot.
type MonitorStatus struct {
	Targets        int
	CheckInterval  time.Duration
	RepeatInterval time.Duration
	ActiveAlerts   int
	TotalTriggered int
}

// Status reports the monitor's configuration and tracked alert state.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, st := range m.states {
		total += len(st.triggered)
	}
	return MonitorStatus{
		Targets:        len(m.targets),
		CheckInterval:  m.interval,
		RepeatInterval: m.repeat,
		ActiveAlerts:   len(m.states),
		TotalTriggered: total,
	}
}

// TriggeredAmounts returns the alias's triggered ladder amounts, ascending.
func (m *Monitor) TriggeredAmounts(alias string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[alias]
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(st.triggered))
	for a := range st.triggered {
		out = append(out, a)
	}
	sort.Float64s(out)
	return out
}

// BalanceLine is one /balances row: the current balance against the
// ladder.
type BalanceLine struct {
	Alias   string
	Bank    string
	Balance string
	Amount  float64
	ParseOK bool
	// Crossed is the highest ladder rung at or below the balance; Next is
	// the first rung above it.
	Crossed *domain.Threshold
	Next    *domain.Threshold
}

// Balances maps every alive worker's balance onto the ladder.
func (m *Monitor) Balances() []BalanceLine {
	rows := m.source.AliveBalances()
	out := make([]BalanceLine, 0, len(rows))
	for _, row := range rows {
		line := BalanceLine{Alias: row.Alias, Bank: row.Bank, Balance: row.Balance}
		if amount, ok := domain.ParseBalanceAmount(row.Balance); ok {
			line.ParseOK = true
			line.Amount = amount
			if t, crossed := m.ladder.Highest(amount); crossed {
				crossedCopy := t
				line.Crossed = &crossedCopy
			}
			for _, t := range m.ladder {
				if amount < t.Amount {
					nextCopy := t
					line.Next = &nextCopy
					break
				}
			}
		}
		out = append(out, line)
	}
	return out
}
