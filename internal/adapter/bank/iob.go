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
	iobLoginURL = "https://netbanking.iob.bank.in/ibanking/html/index.html"

	// iobLoggedOutText is the exact sentence the portal renders when it
	// invalidates a session server-side.
	iobLoggedOutText = "You are Logged OUT of internet banking due to ANY of the following reasons"
)

// iobAdapter drives Indian Overseas Bank, retail and corporate. The two
// differ only in the login entry link and the credential fields typed into
// the form; everything past the dashboard is shared.
type iobAdapter struct {
	deps      Deps
	corporate bool
}

func newIOB(deps Deps, corporate bool) *iobAdapter {
	return &iobAdapter{deps: deps, corporate: corporate}
}

func (a *iobAdapter) Bank() domain.Bank {
	if a.corporate {
		return domain.BankIOBCorporate
	}
	return domain.BankIOB
}

// DetectLoggedOut reports the portal's server-side logout page.
func (a *iobAdapter) DetectLoggedOut(ctx context.Context) (bool, error) {
	text, err := a.deps.Session.PageText(ctx)
	if err != nil {
		return false, fmt.Errorf("op=iob.detect_logged_out: %w", err)
	}
	return strings.Contains(text, iobLoggedOutText), nil
}

func (a *iobAdapter) Login(ctx context.Context, cred domain.Credential) error {
	sess := a.deps.Session

	if err := sess.Navigate(ctx, iobLoginURL); err != nil {
		return fmt.Errorf("op=iob.login: %w", err)
	}
	if err := waitLinkText(ctx, sess, "Continue to Internet Banking Home Page", defaultWait); err != nil {
		return fmt.Errorf("op=iob.login: %w", err)
	}
	if err := clickLinkText(ctx, sess, "Continue to Internet Banking Home Page"); err != nil {
		return fmt.Errorf("op=iob.login: %w", err)
	}

	entry := "Personal Login"
	if a.corporate {
		entry = "Corporate Login"
	}
	if err := waitLinkText(ctx, sess, entry, defaultWait); err != nil {
		return fmt.Errorf("op=iob.login: %w", err)
	}
	if err := clickLinkText(ctx, sess, entry); err != nil {
		return fmt.Errorf("op=iob.login: %w", err)
	}

	if err := sess.WaitVisible(ctx, `[name="loginId"]`, defaultWait); err != nil {
		return fmt.Errorf("op=iob.login: login form: %w", err)
	}
	if a.corporate {
		if err := sess.Fill(ctx, `[name="loginId"]`, cred.LoginID); err != nil {
			return fmt.Errorf("op=iob.login: %w", err)
		}
		if err := sess.Fill(ctx, `[name="userId"]`, cred.UserID); err != nil {
			return fmt.Errorf("op=iob.login: %w", err)
		}
	} else {
		if err := sess.Fill(ctx, `[name="loginId"]`, cred.AuthID()); err != nil {
			return fmt.Errorf("op=iob.login: %w", err)
		}
	}
	if err := sess.Fill(ctx, `[name="password"]`, cred.Password); err != nil {
		return fmt.Errorf("op=iob.login: %w", err)
	}

	if err := sess.WaitVisible(ctx, "#captchaimg", 10*time.Second); err != nil {
		return fmt.Errorf("op=iob.login: captcha image: %w", err)
	}
	code, ticket, err := obtainCaptcha(ctx, a.deps, "#captchaimg")
	if err != nil {
		return fmt.Errorf("op=iob.login: %w", err)
	}
	if err := sess.Fill(ctx, `[name="captchaid"]`, code); err != nil {
		return fmt.Errorf("op=iob.login: %w", err)
	}
	if err := sess.Click(ctx, "#btnSubmit"); err != nil {
		return fmt.Errorf("op=iob.login: %w", err)
	}

	// The rejection notice renders quickly; the dashboard takes longer.
	if err := sess.WaitVisible(ctx, "div.otpmsg span.red", 5*time.Second); err == nil {
		if msg, err := sess.Text(ctx, "div.otpmsg span.red"); err == nil &&
			strings.Contains(strings.ToLower(msg), "captcha entered is incorrect") {
			reportBadTicket(ctx, a.deps, ticket)
			return fmt.Errorf("op=iob.login: %w", domain.ErrCaptchaWrong)
		}
	}

	if err := sess.WaitVisible(ctx, "nav.accordian", defaultWait); err != nil {
		return fmt.Errorf("op=iob.login: dashboard: %w", err)
	}
	return nil
}

func (a *iobAdapter) FetchStatement(ctx context.Context, cred domain.Credential, win domain.DateWindow) (string, error) {
	sess := a.deps.Session

	if err := waitLinkText(ctx, sess, "Account statement", 60*time.Second); err != nil {
		return "", fmt.Errorf("op=iob.fetch: %w", err)
	}
	if err := clickLinkText(ctx, sess, "Account statement"); err != nil {
		return "", fmt.Errorf("op=iob.fetch: %w", err)
	}
	if err := sess.WaitVisible(ctx, "#accountNo", defaultWait); err != nil {
		return "", fmt.Errorf("op=iob.fetch: account select: %w", err)
	}
	if err := a.selectAccount(ctx, cred.AccountNumber); err != nil {
		return "", fmt.Errorf("op=iob.fetch: %w", err)
	}

	if err := forceInput(ctx, sess, "#fromDate", mmddyyyy(win.From)); err != nil {
		return "", fmt.Errorf("op=iob.fetch: %w", err)
	}
	if err := forceInput(ctx, sess, "#toDate", mmddyyyy(win.To)); err != nil {
		return "", fmt.Errorf("op=iob.fetch: %w", err)
	}

	if err := sess.Click(ctx, "#accountstatement_view"); err != nil {
		return "", fmt.Errorf("op=iob.fetch: %w", err)
	}
	if err := sess.WaitVisible(ctx, "#accountstatement_csvAcctStmt", defaultWait); err != nil {
		return "", fmt.Errorf("op=iob.fetch: csv export: %w", err)
	}

	started := time.Now()
	if err := sess.Click(ctx, "#accountstatement_csvAcctStmt"); err != nil {
		return "", fmt.Errorf("op=iob.fetch: %w", err)
	}
	path, err := filewatch.WaitNewest(ctx, sess.DownloadDir(), started, filewatch.Options{
		Extensions: []string{".csv"},
		Timeout:    60 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("op=iob.fetch: %w", err)
	}
	return path, nil
}

// selectAccount picks the dropdown option that starts with the account
// number; with no match the portal's default selection stands.
func (a *iobAdapter) selectAccount(ctx context.Context, accountNumber string) error {
	accountNumber = strings.TrimSpace(accountNumber)
	if accountNumber == "" {
		return nil
	}
	_, err := a.deps.Session.Eval(ctx, fmt.Sprintf(`
		const sel = document.querySelector('#accountNo');
		if (!sel) return "";
		const want = %s;
		for (let i = 0; i < sel.options.length; i++) {
			if ((sel.options[i].text || '').trim().startsWith(want)) {
				sel.selectedIndex = i;
				sel.dispatchEvent(new Event('change', {bubbles: true}));
				return "ok";
			}
		}
		return "";`, jsStr(accountNumber)))
	return err
}

func (a *iobAdapter) ReadBalance(ctx context.Context, cred domain.Credential) (string, error) {
	sess := a.deps.Session

	if err := waitLinkText(ctx, sess, "Balance Enquiry", 60*time.Second); err != nil {
		return "", fmt.Errorf("op=iob.balance: %w", err)
	}
	if err := clickLinkText(ctx, sess, "Balance Enquiry"); err != nil {
		return "", fmt.Errorf("op=iob.balance: %w", err)
	}
	if err := a.clickBalanceLink(ctx, cred.AccountNumber); err != nil {
		return "", fmt.Errorf("op=iob.balance: %w", err)
	}
	if err := sess.WaitVisible(ctx, "#dialogtbl table tr.querytr td", 60*time.Second); err != nil {
		return "", fmt.Errorf("op=iob.balance: %w", err)
	}
	bal, err := sess.Text(ctx, "#dialogtbl table tr.querytr td")
	if err != nil {
		return "", fmt.Errorf("op=iob.balance: %w", err)
	}

	// Tear the modal down and head back so the next cycle starts from the
	// statement page.
	_, _ = sess.Eval(ctx, `document.querySelectorAll('.ui-widget-overlay, #dialogtbl').forEach(el => el.remove()); return "ok";`)
	_ = clickLinkText(ctx, sess, "Account statement")
	return strings.TrimSpace(bal), nil
}

// clickBalanceLink clicks the per-account balance link, preferring the one
// labeled with our account number.
func (a *iobAdapter) clickBalanceLink(ctx context.Context, accountNumber string) error {
	script := fmt.Sprintf(`
		const want = %s;
		let fallback = null;
		for (const a of document.querySelectorAll("a[href*='getBalance']")) {
			if (!fallback) fallback = a;
			if (want && a.textContent.includes(want)) {
				a.scrollIntoView({block:'center'});
				a.click();
				return "ok";
			}
		}
		if (fallback) { fallback.scrollIntoView({block:'center'}); fallback.click(); return "ok"; }
		return "";`, jsStr(strings.TrimSpace(accountNumber)))
	return pollJS(ctx, a.deps.Session, script, 60*time.Second, "balance account link")
}
