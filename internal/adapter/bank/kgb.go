package bank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/pkg/filewatch"
)

const (
	kgbLoginURL = "https://netbanking.kgb.bank.in/"

	kgbFromDateID = "PageConfigurationMaster_RXACBSW__1:TransactionHistoryFG.FROM_TXN_DATE"
	kgbToDateID   = "PageConfigurationMaster_RXACBSW__1:TransactionHistoryFG.TO_TXN_DATE"
)

// kgbAdapter drives Kerala Gramin Bank's Finacle portal. Login is two
// stages: user id plus CAPTCHA first, then the password screen. The
// balance is read off the account row on the way to the statement page
// and cached for ReadBalance.
type kgbAdapter struct {
	deps        Deps
	lastBalance string
}

func newKGB(deps Deps) *kgbAdapter { return &kgbAdapter{deps: deps} }

func (a *kgbAdapter) Bank() domain.Bank { return domain.BankKGB }

func (a *kgbAdapter) Login(ctx context.Context, cred domain.Credential) error {
	sess := a.deps.Session

	if err := sess.Navigate(ctx, kgbLoginURL); err != nil {
		return fmt.Errorf("op=kgb.login: %w", err)
	}
	if err := sess.WaitVisible(ctx, `[id="AuthenticationFG.USER_PRINCIPAL"]`, defaultWait); err != nil {
		return fmt.Errorf("op=kgb.login: login form: %w", err)
	}
	if err := sess.Fill(ctx, `[id="AuthenticationFG.USER_PRINCIPAL"]`, cred.AuthID()); err != nil {
		return fmt.Errorf("op=kgb.login: %w", err)
	}

	code, ticket, err := obtainCaptcha(ctx, a.deps, "#IMAGECAPTCHA")
	if err != nil {
		return fmt.Errorf("op=kgb.login: %w", err)
	}
	if err := sess.Fill(ctx, `[id="AuthenticationFG.VERIFICATION_CODE"]`, code); err != nil {
		return fmt.Errorf("op=kgb.login: %w", err)
	}
	// The page carries several STU_VALIDATE_CREDENTIALS buttons; only one
	// is displayed.
	if err := clickVisibleID(ctx, sess, "STU_VALIDATE_CREDENTIALS"); err != nil {
		return fmt.Errorf("op=kgb.login: %w", err)
	}

	if err := sess.WaitVisible(ctx, "span.span-checkbox", 15*time.Second); err != nil {
		if msg, textErr := sess.Text(ctx, "#errorCodeWrapper"); textErr == nil &&
			strings.Contains(strings.ToLower(msg), "enter the characters") {
			reportBadTicket(ctx, a.deps, ticket)
			return fmt.Errorf("op=kgb.login: %w", domain.ErrCaptchaWrong)
		}
		return fmt.Errorf("op=kgb.login: password screen: %w", err)
	}

	if err := sess.Click(ctx, "span.span-checkbox"); err != nil {
		return fmt.Errorf("op=kgb.login: %w", err)
	}
	if err := sess.Fill(ctx, `[id="AuthenticationFG.ACCESS_CODE"]`, cred.Password); err != nil {
		return fmt.Errorf("op=kgb.login: %w", err)
	}
	if _, err := sess.Eval(ctx, `
		const el = document.querySelector('[id="AuthenticationFG.ACCESS_CODE"]');
		if (!el || !el.form) return "";
		el.form.submit();
		return "ok";`); err != nil {
		return fmt.Errorf("op=kgb.login: submit: %w", err)
	}

	if err := waitPageText(ctx, sess, "Account Statement", defaultWait); err != nil {
		return fmt.Errorf("op=kgb.login: dashboard: %w", err)
	}
	return nil
}

func (a *kgbAdapter) FetchStatement(ctx context.Context, cred domain.Credential, win domain.DateWindow) (string, error) {
	sess := a.deps.Session

	if err := waitLinkText(ctx, sess, "Account Statement", 60*time.Second); err != nil {
		return "", fmt.Errorf("op=kgb.fetch: %w", err)
	}
	if err := clickLinkText(ctx, sess, "Account Statement"); err != nil {
		return "", fmt.Errorf("op=kgb.fetch: %w", err)
	}
	if err := a.openAccountRow(ctx, cred.AccountNumber); err != nil {
		return "", fmt.Errorf("op=kgb.fetch: %w", err)
	}

	if err := sess.WaitVisible(ctx, fmt.Sprintf("[id=%s]", jsStr(kgbFromDateID)), defaultWait); err != nil {
		return "", fmt.Errorf("op=kgb.fetch: date form: %w", err)
	}
	if err := forceInput(ctx, sess, fmt.Sprintf("[id=%s]", jsStr(kgbFromDateID)), ddmmyyyy(win.From)); err != nil {
		return "", fmt.Errorf("op=kgb.fetch: %w", err)
	}
	if err := forceInput(ctx, sess, fmt.Sprintf("[id=%s]", jsStr(kgbToDateID)), ddmmyyyy(win.To)); err != nil {
		return "", fmt.Errorf("op=kgb.fetch: %w", err)
	}

	if err := a.search(ctx); err != nil {
		return "", fmt.Errorf("op=kgb.fetch: %w", err)
	}

	if err := forceSelectText(ctx, sess, `select[id$=".OUTFORMAT"]`, "XLS"); err != nil {
		return "", fmt.Errorf("op=kgb.fetch: %w", err)
	}
	started := time.Now()
	if err := clickVisibleID(ctx, sess, "GENERATE_REPORT"); err != nil {
		return "", fmt.Errorf("op=kgb.fetch: %w", err)
	}

	path, err := filewatch.WaitNewest(ctx, sess.DownloadDir(), started, filewatch.Options{
		Extensions: []string{".xls"},
		Timeout:    90 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("op=kgb.fetch: %w", err)
	}
	return path, nil
}

// openAccountRow finds the summary row for the account, notes its balance
// and clicks through to the statement form.
func (a *kgbAdapter) openAccountRow(ctx context.Context, accountNumber string) error {
	script := fmt.Sprintf(`
		const want = %s;
		for (const tr of document.querySelectorAll('tr')) {
			const cells = tr.querySelectorAll('td');
			if (cells.length === 0) continue;
			if (cells[0].textContent.trim() !== want) continue;
			const bal = tr.querySelector('span.hwgreentxt.amountRightAlign');
			const link = tr.querySelector("a[title='Account Nickname']");
			if (!link) return "";
			link.scrollIntoView({block:'center'});
			link.click();
			return bal ? bal.textContent.trim() : "ok";
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

// search submits the statement query. A freshly opened account sometimes
// answers "do not exist for the account" before the core bank has the
// range indexed; re-submitting clears it.
func (a *kgbAdapter) search(ctx context.Context) error {
	sess := a.deps.Session
	for attempt := 0; attempt < 3; attempt++ {
		if err := clickVisibleID(ctx, sess, "SEARCH"); err != nil {
			return err
		}
		if err := waitPageText(ctx, sess, "Download details", 30*time.Second); err == nil {
			return nil
		}
		if !pageContains(ctx, sess, "do not exist for the account") {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	// The download controls may still be present even without the banner.
	if err := sess.WaitVisible(ctx, `select[id$=".OUTFORMAT"]`, 10*time.Second); err != nil {
		return fmt.Errorf("statement results: %w", domain.ErrWaitTimeout)
	}
	return nil
}

// ReadBalance returns the balance noted while navigating to the statement
// form; the portal has no cheaper balance view.
func (a *kgbAdapter) ReadBalance(ctx context.Context, cred domain.Credential) (string, error) {
	if a.lastBalance == "" {
		return "", fmt.Errorf("op=kgb.balance: no balance observed yet: %w", domain.ErrNotFound)
	}
	return a.lastBalance, nil
}
