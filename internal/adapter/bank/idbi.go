package bank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/pkg/filewatch"
)

const idbiLoginURL = "https://inet.idbibank.co.in/"

// idbiAdapter drives IDBI's Finacle portal. Like KGB the balance is read
// from the account summary row while navigating and cached; unlike KGB
// the statement form stays open across cycles, so the summary detour is
// skipped when the date field is already on screen.
type idbiAdapter struct {
	deps        Deps
	lastBalance string
}

func newIDBI(deps Deps) *idbiAdapter { return &idbiAdapter{deps: deps} }

func (a *idbiAdapter) Bank() domain.Bank { return domain.BankIDBI }

func (a *idbiAdapter) Login(ctx context.Context, cred domain.Credential) error {
	sess := a.deps.Session

	if err := sess.Navigate(ctx, idbiLoginURL); err != nil {
		return fmt.Errorf("op=idbi.login: %w", err)
	}
	if err := sess.WaitVisible(ctx, `[id="AuthenticationFG.USER_PRINCIPAL"]`, defaultWait); err != nil {
		return fmt.Errorf("op=idbi.login: login form: %w", err)
	}
	if err := sess.Fill(ctx, `[id="AuthenticationFG.USER_PRINCIPAL"]`, cred.AuthID()); err != nil {
		return fmt.Errorf("op=idbi.login: %w", err)
	}

	code, ticket, err := obtainCaptcha(ctx, a.deps, "#IMAGECAPTCHA")
	if err != nil {
		return fmt.Errorf("op=idbi.login: %w", err)
	}
	if err := sess.Fill(ctx, `[id="AuthenticationFG.VERIFICATION_CODE"]`, code); err != nil {
		return fmt.Errorf("op=idbi.login: %w", err)
	}
	if err := clickVisibleID(ctx, sess, "STU_VALIDATE_CREDENTIALS"); err != nil {
		return fmt.Errorf("op=idbi.login: %w", err)
	}

	// Password screen: the terms checkbox renders as a styled span next to
	// the real input.
	checkbox := `input[id="AuthenticationFG.TARGET_CHECKBOX"] + span.span-checkbox`
	if err := sess.WaitVisible(ctx, checkbox, 15*time.Second); err != nil {
		if msg, textErr := sess.Text(ctx, "#errorCodeWrapper"); textErr == nil &&
			strings.Contains(strings.ToLower(msg), "enter the characters") {
			reportBadTicket(ctx, a.deps, ticket)
			return fmt.Errorf("op=idbi.login: %w", domain.ErrCaptchaWrong)
		}
		return fmt.Errorf("op=idbi.login: password screen: %w", err)
	}
	if err := sess.Click(ctx, checkbox); err != nil {
		return fmt.Errorf("op=idbi.login: %w", err)
	}
	if err := sess.Fill(ctx, `[id="AuthenticationFG.ACCESS_CODE"]`, cred.Password); err != nil {
		return fmt.Errorf("op=idbi.login: %w", err)
	}
	if _, err := sess.Eval(ctx, `
		const el = document.querySelector('[id="AuthenticationFG.ACCESS_CODE"]');
		if (!el || !el.form) return "";
		el.form.submit();
		return "ok";`); err != nil {
		return fmt.Errorf("op=idbi.login: submit: %w", err)
	}

	if err := sess.WaitVisible(ctx, "table", defaultWait); err != nil {
		return fmt.Errorf("op=idbi.login: dashboard: %w", err)
	}
	a.dismissNotifications(ctx)
	return nil
}

// dismissNotifications closes the post-login notifications pane when it
// shows up.
func (a *idbiAdapter) dismissNotifications(ctx context.Context) {
	_, _ = a.deps.Session.Eval(ctx, `
		const el = document.querySelector('#span_HREF_Notifications');
		if (el) el.click();
		return "ok";`)
}

func (a *idbiAdapter) FetchStatement(ctx context.Context, cred domain.Credential, win domain.DateWindow) (string, error) {
	sess := a.deps.Session
	fromDate := `[name="TransactionHistoryFG.FROM_TXN_DATE"]`

	if !a.onStatementForm(ctx) {
		if err := a.openAccountRow(ctx, cred.AccountNumber); err != nil {
			return "", fmt.Errorf("op=idbi.fetch: %w", err)
		}
		if err := sess.WaitVisible(ctx, fromDate, defaultWait); err != nil {
			return "", fmt.Errorf("op=idbi.fetch: statement form: %w", err)
		}
	}

	if err := forceInput(ctx, sess, fromDate, ddmmyyyy(win.From)); err != nil {
		return "", fmt.Errorf("op=idbi.fetch: %w", err)
	}
	if err := forceInput(ctx, sess, `[name="TransactionHistoryFG.TO_TXN_DATE"]`, ddmmyyyy(win.To)); err != nil {
		return "", fmt.Errorf("op=idbi.fetch: %w", err)
	}
	if err := sess.Click(ctx, `[name="Action.SEARCH"]`); err != nil {
		return "", fmt.Errorf("op=idbi.fetch: %w", err)
	}
	if err := sess.WaitVisible(ctx, "span.downloadtext", 30*time.Second); err != nil {
		return "", fmt.Errorf("op=idbi.fetch: results: %w", err)
	}

	started := time.Now()
	if err := a.clickXLS(ctx); err != nil {
		return "", fmt.Errorf("op=idbi.fetch: %w", err)
	}
	path, err := filewatch.WaitNewest(ctx, sess.DownloadDir(), started, filewatch.Options{
		Extensions: []string{".xls"},
		Timeout:    90 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("op=idbi.fetch: %w", err)
	}
	return path, nil
}

func (a *idbiAdapter) onStatementForm(ctx context.Context) bool {
	out, err := a.deps.Session.Eval(ctx, `
		return document.querySelector('[name="TransactionHistoryFG.FROM_TXN_DATE"]') ? "ok" : "";`)
	return err == nil && out == "ok"
}

// openAccountRow locates the summary row holding the account number, notes
// the INR balance cell and follows the statement link.
func (a *idbiAdapter) openAccountRow(ctx context.Context, accountNumber string) error {
	script := fmt.Sprintf(`
		const want = %s;
		for (const span of document.querySelectorAll('span')) {
			if (span.textContent.trim() !== want) continue;
			const tr = span.closest('tr');
			if (!tr) continue;
			let bal = "";
			for (const td of tr.querySelectorAll('td')) {
				if (td.textContent.includes('INR')) { bal = td.textContent.trim(); break; }
			}
			const link = tr.querySelector("a[title='A/C Statement']");
			if (!link) return "";
			link.scrollIntoView({block:'center'});
			link.click();
			return bal || "ok";
		}
		return "";`, jsStr(strings.TrimSpace(accountNumber)))

	deadline := time.Now().Add(60 * time.Second)
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		if out, err := a.deps.Session.Eval(ctx, script); err == nil && out != "" {
			if out != "ok" {
				a.lastBalance = out
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("account row %q: %w", accountNumber, domain.ErrWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// clickXLS picks the XLS export among the generate-report buttons.
func (a *idbiAdapter) clickXLS(ctx context.Context) error {
	out, err := a.deps.Session.Eval(ctx, `
		const btn = document.querySelector("input[name='Action.GENERATE_REPORT'][onclick*='setOutformat(4']");
		if (!btn) return "";
		btn.scrollIntoView({block:'center'});
		btn.click();
		return "ok";`)
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("xls export button: %w", domain.ErrNotFound)
	}
	return nil
}

func (a *idbiAdapter) ReadBalance(ctx context.Context, cred domain.Credential) (string, error) {
	if a.lastBalance == "" {
		return "", fmt.Errorf("op=idbi.balance: no balance observed yet: %w", domain.ErrNotFound)
	}
	return a.lastBalance, nil
}
