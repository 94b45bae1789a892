package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/internal/usecase"
	"github.com/moshano/autobot/pkg/filewatch"
	"github.com/moshano/autobot/pkg/textx"
)

// Supervisor is the slice of the worker registry the bot drives.
type Supervisor interface {
	StartWorker(ctx context.Context, alias string, window domain.DateWindow) (domain.WorkerStatus, error)
	StopWorker(ctx context.Context, alias string) (bool, error)
	StopAll(ctx context.Context) ([]string, error)
	ListRunning() []domain.WorkerStatus
	ListActive() []usecase.ActiveStatus
	QueryBalance(aliases []string) []usecase.BalanceReport
	StatusScreenshot(ctx context.Context, alias, reason string) error
	EditCredential(ctx context.Context, alias, field, value string) error
	AddCredential(ctx context.Context, cred domain.Credential) error
	Credentials() []domain.Credential
	CredentialFor(alias string) (domain.Credential, bool)
	BroadcastCaptcha(text string) []string
	BroadcastOTP(code string) []string
}

// Monitor is the slice of the balance monitor the bot queries.
type Monitor interface {
	Status() usecase.MonitorStatus
	Balances() []usecase.BalanceLine
	ResetAlerts(alias string) bool
	ResetAll() int
}

// Updates abstracts the long-poll source so tests can script it.
type Updates interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

const (
	pollWindow  = 30 * time.Second
	editPending = 5 * time.Minute
)

var (
	otpPattern     = regexp.MustCompile(`^\d{6}$`)
	captchaPattern = regexp.MustCompile(`^[A-Za-z0-9]{4,8}$`)
)

// pendingEdit is the per-chat state of an interactive /edit: first the
// field, then the value.
type pendingEdit struct {
	alias   string
	field   string
	expires time.Time
}

// Bot is the command front end: one goroutine long-polling getUpdates and
// mapping commands onto the supervisor and monitor.
type Bot struct {
	updates      Updates
	transport    domain.ChatTransport
	supervisor   Supervisor
	monitor      Monitor
	chatID       int64
	groups       []int64
	downloadRoot string

	offset  int64
	pending map[int64]*pendingEdit
}

// NewBot wires the command surface. chatID is the primary operator chat;
// groups are the additional chats allowed to issue commands.
func NewBot(updates Updates, transport domain.ChatTransport, sup Supervisor, mon Monitor, chatID int64, groups []int64, downloadRoot string) *Bot {
	return &Bot{
		updates:      updates,
		transport:    transport,
		supervisor:   sup,
		monitor:      mon,
		chatID:       chatID,
		groups:       groups,
		downloadRoot: downloadRoot,
		pending:      map[int64]*pendingEdit{},
	}
}

// Run polls until the context is cancelled. Poll errors back off briefly;
// the offset only advances past updates that were handled.
func (b *Bot) Run(ctx context.Context) {
	slog.Info("telegram bot started", slog.Int64("chat_id", b.chatID))
	for {
		updates, err := b.updates.GetUpdates(ctx, b.offset, pollWindow)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("telegram bot stopped")
				return
			}
			slog.Warn("telegram poll failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			b.Handle(ctx, u)
		}
	}
}

// Handle processes one update. Exported so tests drive the bot without the
// poll loop.
func (b *Bot) Handle(ctx context.Context, u Update) {
	if u.Message == nil {
		return
	}
	chatID := u.Message.Chat.ID
	if !b.authorized(chatID) {
		return
	}
	text := strings.TrimSpace(textx.SanitizeText(u.Message.Text))
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		delete(b.pending, chatID)
		b.command(ctx, chatID, text)
		return
	}
	if p, ok := b.pending[chatID]; ok {
		if time.Now().After(p.expires) {
			delete(b.pending, chatID)
			b.reply(ctx, chatID, "edit expired, start again with /edit <alias>")
			return
		}
		b.continueEdit(ctx, chatID, p, text)
		return
	}
	b.broadcastCode(ctx, chatID, text)
}

func (b *Bot) authorized(chatID int64) bool {
	if chatID == b.chatID {
		return true
	}
	for _, g := range b.groups {
		if chatID == g {
			return true
		}
	}
	return false
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.transport.SendMessage(ctx, chatID, textx.Clip(text, 4096)); err != nil {
		slog.Warn("telegram reply failed", slog.String("error", err.Error()))
	}
}

// broadcastCode applies the loose non-command rules: a 6-digit message is
// an OTP, a 4-8 char alphanumeric message is a CAPTCHA answer. A 6-digit
// message matches both and feeds both inboxes, preserving the operators'
// existing habits.
func (b *Bot) broadcastCode(ctx context.Context, chatID int64, text string) {
	var lines []string
	if otpPattern.MatchString(text) {
		if reached := b.supervisor.BroadcastOTP(text); len(reached) > 0 {
			lines = append(lines, "OTP sent to: "+strings.Join(reached, ", "))
		}
	}
	if captchaPattern.MatchString(text) {
		if reached := b.supervisor.BroadcastCaptcha(strings.ToUpper(text)); len(reached) > 0 {
			lines = append(lines, "CAPTCHA sent to: "+strings.Join(reached, ", "))
		}
	}
	if len(lines) == 0 {
		return
	}
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) command(ctx context.Context, chatID int64, text string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Group chats address commands as /cmd@botname.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start", "/help":
		b.reply(ctx, chatID, helpText)
	case "/run":
		b.cmdRun(ctx, chatID, args)
	case "/stop":
		b.cmdStop(ctx, chatID, args)
	case "/stopall":
		b.cmdStopAll(ctx, chatID)
	case "/running":
		b.cmdRunning(ctx, chatID)
	case "/active":
		b.cmdActive(ctx, chatID)
	case "/balance":
		b.cmdBalance(ctx, chatID, args)
	case "/status":
		b.cmdStatus(ctx, chatID, args)
	case "/list", "/aliases":
		b.cmdList(ctx, chatID)
	case "/add":
		b.cmdAdd(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, fields[0])))
	case "/edit":
		b.cmdEdit(ctx, chatID, args)
	case "/file":
		b.cmdFile(ctx, chatID, args)
	case "/alerts":
		b.cmdAlerts(ctx, chatID)
	case "/reset_alerts":
		b.cmdResetAlerts(ctx, chatID, args)
	case "/balances":
		b.cmdBalances(ctx, chatID)
	default:
		b.reply(ctx, chatID, "unknown command, see /help")
	}
}

const helpText = `Autobot commands:
/run <alias>... [from DD/MM/YYYY to DD/MM/YYYY] - start workers
/stop <alias>... - stop workers
/stopall - stop everything
/running - running workers
/active - workers with upload freshness
/balance [alias...] - last known balances
/status <alias> - screenshot every tab
/list - registered aliases (accounts masked)
/add alias,username,password,account or alias,login_id,user_id,password,account
/edit <alias> - change one credential field
/file <alias> - latest downloaded statement
/alerts - balance alert status
/reset_alerts <alias|all> - clear alert state
/balances - balances against the alert ladder
Plain text: 6 digits = OTP, 4-8 letters/digits = CAPTCHA answer.`

// parseRunArgs splits "/run" arguments into aliases and an optional
// explicit date window given as "from DD/MM/YYYY to DD/MM/YYYY".
func parseRunArgs(args []string) ([]string, domain.DateWindow, error) {
	var aliases []string
	var win domain.DateWindow
	for i := 0; i < len(args); i++ {
		switch strings.ToLower(args[i]) {
		case "from":
			if i+3 >= len(args) || strings.ToLower(args[i+2]) != "to" {
				return nil, win, fmt.Errorf("window syntax: from DD/MM/YYYY to DD/MM/YYYY")
			}
			from, err := time.Parse("02/01/2006", args[i+1])
			if err != nil {
				return nil, win, fmt.Errorf("bad from date %q", args[i+1])
			}
			to, err := time.Parse("02/01/2006", args[i+3])
			if err != nil {
				return nil, win, fmt.Errorf("bad to date %q", args[i+3])
			}
			if to.Before(from) {
				return nil, win, fmt.Errorf("window ends before it starts")
			}
			win = domain.DateWindow{From: from, To: to}
			i += 3
		default:
			aliases = append(aliases, args[i])
		}
	}
	return aliases, win, nil
}

func (b *Bot) cmdRun(ctx context.Context, chatID int64, args []string) {
	aliases, win, err := parseRunArgs(args)
	if err != nil {
		b.reply(ctx, chatID, err.Error())
		return
	}
	if len(aliases) == 0 {
		b.reply(ctx, chatID, "usage: /run <alias>... [from DD/MM/YYYY to DD/MM/YYYY]")
		return
	}
	var lines []string
	for _, alias := range aliases {
		if _, err := b.supervisor.StartWorker(ctx, alias, win); err != nil {
			lines = append(lines, fmt.Sprintf("%s: %v", alias, err))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: starting", alias))
	}
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdStop(ctx context.Context, chatID int64, args []string) {
	if len(args) == 0 {
		b.reply(ctx, chatID, "usage: /stop <alias>...")
		return
	}
	var lines []string
	for _, alias := range args {
		stopped, err := b.supervisor.StopWorker(ctx, alias)
		switch {
		case err != nil:
			lines = append(lines, fmt.Sprintf("%s: %v", alias, err))
		case stopped:
			lines = append(lines, fmt.Sprintf("%s: stopped", alias))
		default:
			lines = append(lines, fmt.Sprintf("%s: not running", alias))
		}
	}
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdStopAll(ctx context.Context, chatID int64) {
	stopped, err := b.supervisor.StopAll(ctx)
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("stopall finished with errors: %v", err))
		return
	}
	if len(stopped) == 0 {
		b.reply(ctx, chatID, "nothing was running")
		return
	}
	b.reply(ctx, chatID, "stopped: "+strings.Join(stopped, ", "))
}

func (b *Bot) cmdRunning(ctx context.Context, chatID int64) {
	statuses := b.supervisor.ListRunning()
	if len(statuses) == 0 {
		b.reply(ctx, chatID, "no workers running")
		return
	}
	lines := make([]string, 0, len(statuses))
	for _, st := range statuses {
		lines = append(lines, fmt.Sprintf("%s (%s) %s, up %s",
			st.Alias, st.Bank, st.State, time.Since(st.StartedAt).Round(time.Second)))
	}
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdActive(ctx context.Context, chatID int64) {
	rows := b.supervisor.ListActive()
	if len(rows) == 0 {
		b.reply(ctx, chatID, "no workers running")
		return
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		upload := "no upload yet"
		if r.HasUpload {
			upload = "last upload " + time.Since(r.LastUploadAt).Round(time.Second).String() + " ago"
		}
		if r.Stale {
			upload += " (stale)"
		}
		lines = append(lines, fmt.Sprintf("%s (%s): %s", r.Alias, r.Bank, upload))
	}
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdBalance(ctx context.Context, chatID int64, args []string) {
	reports := b.supervisor.QueryBalance(args)
	if len(reports) == 0 {
		b.reply(ctx, chatID, "no aliases known")
		return
	}
	lines := make([]string, 0, len(reports))
	for _, r := range reports {
		switch {
		case !r.Running:
			lines = append(lines, r.Alias+": not running")
		case r.Balance == "":
			lines = append(lines, fmt.Sprintf("%s (%s): no balance yet", r.Alias, r.Bank))
		default:
			lines = append(lines, fmt.Sprintf("%s (%s): %s", r.Alias, r.Bank, r.Balance))
		}
	}
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdStatus(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(ctx, chatID, "usage: /status <alias>")
		return
	}
	if err := b.supervisor.StatusScreenshot(ctx, args[0], "status request"); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("%s: %v", args[0], err))
	}
}

func (b *Bot) cmdList(ctx context.Context, chatID int64) {
	creds := b.supervisor.Credentials()
	if len(creds) == 0 {
		b.reply(ctx, chatID, "no credentials loaded")
		return
	}
	lines := make([]string, 0, len(creds))
	for _, c := range creds {
		lines = append(lines, fmt.Sprintf("%s (%s) %s", c.Alias, c.BankLabel, textx.MaskTail(c.AccountNumber, 4)))
	}
	sort.Strings(lines)
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdAdd(ctx context.Context, chatID int64, row string) {
	cred, err := parseAddRow(row)
	if err != nil {
		b.reply(ctx, chatID, err.Error())
		return
	}
	if err := b.supervisor.AddCredential(ctx, cred); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("add failed: %v", err))
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("added %s (%s)", cred.Alias, cred.BankLabel))
}

// parseAddRow accepts the two historical /add layouts:
// alias,username,password,account_number and
// alias,login_id,user_id,password,account_number.
func parseAddRow(row string) (domain.Credential, error) {
	parts := strings.Split(row, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	var cred domain.Credential
	switch len(parts) {
	case 4:
		cred = domain.Credential{Alias: parts[0], Username: parts[1], Password: parts[2], AccountNumber: parts[3]}
	case 5:
		cred = domain.Credential{Alias: parts[0], LoginID: parts[1], UserID: parts[2], Password: parts[3], AccountNumber: parts[4]}
	default:
		return domain.Credential{}, fmt.Errorf("expected 4 or 5 comma-separated fields, got %d", len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return domain.Credential{}, fmt.Errorf("empty field in /add row")
		}
	}
	cred.BankLabel = domain.LabelFromAlias(cred.Alias)
	if _, err := domain.BankByLabel(cred.BankLabel); err != nil {
		return domain.Credential{}, fmt.Errorf("alias %q maps to no supported bank", cred.Alias)
	}
	return cred, nil
}

func (b *Bot) cmdEdit(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(ctx, chatID, "usage: /edit <alias>")
		return
	}
	alias := args[0]
	if _, ok := b.supervisor.CredentialFor(alias); !ok {
		b.reply(ctx, chatID, fmt.Sprintf("unknown alias %q", alias))
		return
	}
	b.pending[chatID] = &pendingEdit{alias: alias, expires: time.Now().Add(editPending)}
	b.reply(ctx, chatID, "which field? one of: "+strings.Join(domain.EditableCredentialFields, ", "))
}

func (b *Bot) continueEdit(ctx context.Context, chatID int64, p *pendingEdit, text string) {
	if p.field == "" {
		field := strings.ToLower(text)
		if !domain.EditableField(field) {
			b.reply(ctx, chatID, "field must be one of: "+strings.Join(domain.EditableCredentialFields, ", "))
			return
		}
		p.field = field
		b.reply(ctx, chatID, fmt.Sprintf("new value for %s.%s?", p.alias, field))
		return
	}
	delete(b.pending, chatID)
	if err := b.supervisor.EditCredential(ctx, p.alias, p.field, text); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("edit failed: %v", err))
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("%s.%s updated; takes effect on next login", p.alias, p.field))
}

func (b *Bot) cmdFile(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(ctx, chatID, "usage: /file <alias>")
		return
	}
	alias := args[0]
	if _, ok := b.supervisor.CredentialFor(alias); !ok {
		b.reply(ctx, chatID, fmt.Sprintf("unknown alias %q", alias))
		return
	}
	dir := filepath.Join(b.downloadRoot, alias)
	path, err := filewatch.Newest(dir, []string{".csv", ".xls", ".xlsx"})
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("no statement files for %s", alias))
		return
	}
	f, err := os.Open(path)
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("open %s: %v", filepath.Base(path), err))
		return
	}
	defer func() { _ = f.Close() }()
	if err := b.transport.SendDocument(ctx, chatID, filepath.Base(path), f); err != nil {
		slog.Warn("telegram document send failed", slog.String("error", err.Error()))
	}
}

func (b *Bot) cmdAlerts(ctx context.Context, chatID int64) {
	st := b.monitor.Status()
	b.reply(ctx, chatID, fmt.Sprintf(
		"balance monitor: %d targets, check every %s, repeat every %s\nactive alerts: %d, thresholds triggered: %d",
		st.Targets, st.CheckInterval, st.RepeatInterval, st.ActiveAlerts, st.TotalTriggered))
}

func (b *Bot) cmdResetAlerts(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(ctx, chatID, "usage: /reset_alerts <alias|all>")
		return
	}
	if strings.EqualFold(args[0], "all") {
		n := b.monitor.ResetAll()
		b.reply(ctx, chatID, fmt.Sprintf("cleared alert state for %d aliases", n))
		return
	}
	if b.monitor.ResetAlerts(args[0]) {
		b.reply(ctx, chatID, "alert state cleared for "+args[0])
		return
	}
	b.reply(ctx, chatID, "no alert state for "+args[0])
}

func (b *Bot) cmdBalances(ctx context.Context, chatID int64) {
	lines := b.monitor.Balances()
	if len(lines) == 0 {
		b.reply(ctx, chatID, "no workers running")
		return
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if !l.ParseOK {
			out = append(out, fmt.Sprintf("%s (%s): %q unreadable", l.Alias, l.Bank, l.Balance))
			continue
		}
		line := fmt.Sprintf("%s (%s): %s", l.Alias, l.Bank, domain.FormatAmount(l.Amount))
		if l.Crossed != nil {
			line += fmt.Sprintf(", over %s", domain.FormatAmount(l.Crossed.Amount))
		}
		if l.Next != nil {
			line += fmt.Sprintf(", next threshold %s", domain.FormatAmount(l.Next.Amount))
		}
		out = append(out, line)
	}
	b.reply(ctx, chatID, strings.Join(out, "\n"))
}
