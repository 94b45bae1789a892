package bank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/pkg/filewatch"
)

const canaraLoginURL = "https://online.canarabank.bank.in/?module=login"

// canaraAdapter drives Canara Bank's Oracle JET portal. The portal throws
// promotional popups before and after login; dismissal is best-effort and
// never fails the flow. Login may additionally demand an OTP.
type canaraAdapter struct {
	deps Deps
}

func newCanara(deps Deps) *canaraAdapter { return &canaraAdapter{deps: deps} }

func (a *canaraAdapter) Bank() domain.Bank { return domain.BankCanara }

func (a *canaraAdapter) Login(ctx context.Context, cred domain.Credential) error {
	sess := a.deps.Session

	if err := sess.Navigate(ctx, canaraLoginURL); err != nil {
		return fmt.Errorf("op=canara.login: %w", err)
	}
	if err := sess.WaitVisible(ctx, `[id="login_username|input"]`, defaultWait); err != nil {
		a.dismissPopups(ctx)
		if err := sess.WaitVisible(ctx, `[id="login_username|input"]`, defaultWait); err != nil {
			return fmt.Errorf("op=canara.login: login form: %w", err)
		}
	}
	a.dismissPopups(ctx)

	if err := sess.Fill(ctx, `[id="login_username|input"]`, cred.AuthID()); err != nil {
		return fmt.Errorf("op=canara.login: %w", err)
	}
	if err := sess.Fill(ctx, `[id="login_password|input"]`, cred.Password); err != nil {
		return fmt.Errorf("op=canara.login: %w", err)
	}

	code, ticket, err := obtainCaptcha(ctx, a.deps, "#imageCaptcha img.customCaptcha")
	if err != nil {
		return fmt.Errorf("op=canara.login: %w", err)
	}
	if err := sess.Fill(ctx, `[id="captchaid|input"]`, code); err != nil {
		return fmt.Errorf("op=canara.login: %w", err)
	}
	if err := clickSpanControl(ctx, sess, "LOGIN"); err != nil {
		return fmt.Errorf("op=canara.login: %w", err)
	}

	if err := a.maybeHandleOTP(ctx); err != nil {
		return fmt.Errorf("op=canara.login: %w", err)
	}

	if err := waitPageText(ctx, sess, "Accounts & Services", 60*time.Second); err != nil {
		if pageContains(ctx, sess, "captcha") {
			reportBadTicket(ctx, a.deps, ticket)
			return fmt.Errorf("op=canara.login: %w", domain.ErrCaptchaWrong)
		}
		return fmt.Errorf("op=canara.login: dashboard: %w", err)
	}
	a.dismissPostLogin(ctx)
	return nil
}

// maybeHandleOTP answers the OTP challenge when the portal raises one,
// retrying on the invalid-OTP modal.
func (a *canaraAdapter) maybeHandleOTP(ctx context.Context) error {
	sess := a.deps.Session
	if err := waitPageText(ctx, sess, "One Time Password (OTP)", 10*time.Second); err != nil {
		return nil
	}
	for attempt := 0; attempt < 3; attempt++ {
		otp, err := obtainOTP(ctx, a.deps, "login OTP requested by the portal, please reply with it")
		if err != nil {
			return err
		}
		if err := sess.Fill(ctx, `[id="otp|input"]`, otp); err != nil {
			return err
		}
		if err := clickSpanControl(ctx, sess, "Submit"); err != nil {
			return err
		}
		if err := waitPageText(ctx, sess, "invalid", 8*time.Second); err != nil {
			return nil
		}
		_ = clickSpanControl(ctx, sess, "Okay")
	}
	return fmt.Errorf("otp rejected repeatedly: %w", domain.ErrWaitTimeout)
}

// dismissPopups closes the promotional overlays the login page stacks up:
// click whatever sits at the top-right corner, then any of the usual
// confirm buttons.
func (a *canaraAdapter) dismissPopups(ctx context.Context) {
	_, _ = a.deps.Session.Eval(ctx, `
		const el = document.elementFromPoint(window.innerWidth - 20, 20);
		if (el) el.click();
		for (const span of document.querySelectorAll('span')) {
			const t = span.textContent.trim();
			if (t === 'Ok' || t === 'OK' || t === 'Okay' || t === 'Close') {
				const btn = span.closest('button, [role="button"]') || span;
				btn.click();
			}
		}
		return "ok";`)
}

// dismissPostLogin clears the password-expiry prompt when present.
func (a *canaraAdapter) dismissPostLogin(ctx context.Context) {
	_, _ = a.deps.Session.Eval(ctx, `
		const btn = document.querySelector('oj-button#pwdExpiryButton button')
			|| document.querySelector('#pwdExpiryButton');
		if (btn) btn.click();
		return "ok";`)
	a.dismissPopups(ctx)
}

func (a *canaraAdapter) FetchStatement(ctx context.Context, cred domain.Credential, win domain.DateWindow) (string, error) {
	sess := a.deps.Session

	if err := clickSpanControl(ctx, sess, "Account Statement"); err != nil {
		return "", fmt.Errorf("op=canara.fetch: %w", err)
	}
	if err := clickSpanControl(ctx, sess, "View/Download Account Statement"); err != nil {
		return "", fmt.Errorf("op=canara.fetch: %w", err)
	}

	if err := a.selectAccount(ctx, cred.AccountNumber); err != nil {
		return "", fmt.Errorf("op=canara.fetch: %w", err)
	}
	if err := clickSpanControl(ctx, sess, "Date Range"); err != nil {
		return "", fmt.Errorf("op=canara.fetch: %w", err)
	}
	if err := forceInput(ctx, sess, `[id="fromDate|input"]`, ddmmyyyy(win.From)); err != nil {
		return "", fmt.Errorf("op=canara.fetch: %w", err)
	}
	if err := forceInput(ctx, sess, `[id="todate|input"]`, ddmmyyyy(win.To)); err != nil {
		return "", fmt.Errorf("op=canara.fetch: %w", err)
	}
	if err := clickSpanControl(ctx, sess, "Apply Filter"); err != nil {
		return "", fmt.Errorf("op=canara.fetch: %w", err)
	}

	if err := sess.Click(ctx, "#ojChoiceId_myMenu"); err != nil {
		return "", fmt.Errorf("op=canara.fetch: format menu: %w", err)
	}
	if err := a.pickMenuItem(ctx, "CSV"); err != nil {
		return "", fmt.Errorf("op=canara.fetch: %w", err)
	}

	started := time.Now()
	if err := clickSpanControl(ctx, sess, "Download"); err != nil {
		return "", fmt.Errorf("op=canara.fetch: %w", err)
	}
	path, err := filewatch.WaitNewest(ctx, sess.DownloadDir(), started, filewatch.Options{
		Extensions: []string{".csv"},
		Timeout:    90 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("op=canara.fetch: %w", err)
	}
	return path, nil
}

// selectAccount opens the JET account dropdown and picks the entry
// containing the account number.
func (a *canaraAdapter) selectAccount(ctx context.Context, accountNumber string) error {
	sess := a.deps.Session
	picker := `div.oj-select-choice[aria-label="Select Account Number"]`
	if err := sess.WaitVisible(ctx, picker, defaultWait); err != nil {
		return err
	}
	if err := sess.Click(ctx, picker); err != nil {
		return err
	}
	script := fmt.Sprintf(`
		const want = %s;
		for (const li of document.querySelectorAll('.oj-listbox-results li')) {
			if (li.textContent.includes(want)) {
				li.click();
				return "ok";
			}
		}
		return "";`, jsStr(strings.TrimSpace(accountNumber)))
	return pollJS(ctx, sess, script, 15*time.Second, fmt.Sprintf("account %q", accountNumber))
}

// pickMenuItem clicks an entry in the open format menu.
func (a *canaraAdapter) pickMenuItem(ctx context.Context, text string) error {
	script := fmt.Sprintf(`
		const want = %s;
		for (const li of document.querySelectorAll('#myMenu-list li, #myMenu li')) {
			if (li.textContent.trim() === want) {
				li.click();
				return "ok";
			}
		}
		return "";`, jsStr(text))
	return pollJS(ctx, a.deps.Session, script, 10*time.Second, fmt.Sprintf("menu item %q", text))
}

func (a *canaraAdapter) ReadBalance(ctx context.Context, cred domain.Credential) (string, error) {
	sess := a.deps.Session

	if err := sess.Click(ctx, `a[aria-label="Account Summary"]`); err != nil {
		return "", fmt.Errorf("op=canara.balance: %w", err)
	}
	script := fmt.Sprintf(`
		const want = %s;
		for (const tr of document.querySelectorAll("table[id*='DDSummaryTable'] tr")) {
			let hit = false;
			for (const span of tr.querySelectorAll('span')) {
				if (span.textContent.trim() === want) { hit = true; break; }
			}
			if (!hit) continue;
			const td = tr.querySelector('td.amount');
			if (td) return td.textContent.trim();
		}
		return "";`, jsStr(strings.TrimSpace(cred.AccountNumber)))

	deadline := time.Now().Add(30 * time.Second)
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		if out, err := sess.Eval(ctx, script); err == nil && out != "" {
			return out, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("op=canara.balance: summary row: %w", domain.ErrWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-tick.C:
		}
	}
}
