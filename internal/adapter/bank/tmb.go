package bank

import (
	"context"
	"fmt"
	"time"

	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/pkg/filewatch"
)

const tmbLoginURL = "https://www.tmbnet.in/"

// tmbAdapter drives the Tamilnad Mercantile Bank net-banking portal. The
// statement search runs with the portal's default range, so the date
// window is implicit in the portal's own day boundary.
type tmbAdapter struct {
	deps Deps
}

func newTMB(deps Deps) *tmbAdapter { return &tmbAdapter{deps: deps} }

func (a *tmbAdapter) Bank() domain.Bank { return domain.BankTMB }

func (a *tmbAdapter) Login(ctx context.Context, cred domain.Credential) error {
	sess := a.deps.Session

	if err := sess.Navigate(ctx, tmbLoginURL); err != nil {
		return fmt.Errorf("op=tmb.login: %w", err)
	}
	if err := waitLinkText(ctx, sess, "Net Banking Login", defaultWait); err != nil {
		return fmt.Errorf("op=tmb.login: %w", err)
	}
	if err := clickLinkText(ctx, sess, "Net Banking Login"); err != nil {
		return fmt.Errorf("op=tmb.login: %w", err)
	}

	// The landing page varies; both continue buttons are optional.
	if err := sess.WaitVisible(ctx, "button.login-button.btn-tmb-primary", 5*time.Second); err == nil {
		_ = sess.Click(ctx, "button.login-button.btn-tmb-primary")
	} else {
		_ = clickSpanControl(ctx, sess, "Continue to Login")
	}

	if err := sess.WaitVisible(ctx, `[name="AuthenticationFG.USER_PRINCIPAL"]`, defaultWait); err != nil {
		return fmt.Errorf("op=tmb.login: login form: %w", err)
	}
	if err := sess.Fill(ctx, `[name="AuthenticationFG.USER_PRINCIPAL"]`, cred.AuthID()); err != nil {
		return fmt.Errorf("op=tmb.login: %w", err)
	}
	if err := sess.Fill(ctx, `[name="AuthenticationFG.ACCESS_CODE"]`, cred.Password); err != nil {
		return fmt.Errorf("op=tmb.login: %w", err)
	}

	code, ticket, err := obtainCaptcha(ctx, a.deps, "#IMAGECAPTCHA")
	if err != nil {
		return fmt.Errorf("op=tmb.login: %w", err)
	}
	if err := sess.Fill(ctx, `[name="AuthenticationFG.VERIFICATION_CODE"]`, code); err != nil {
		return fmt.Errorf("op=tmb.login: %w", err)
	}
	if err := sess.Click(ctx, "#VALIDATE_CREDENTIALS"); err != nil {
		return fmt.Errorf("op=tmb.login: %w", err)
	}

	if err := waitPageText(ctx, sess, "My Accounts", defaultWait); err != nil {
		if pageContains(ctx, sess, "characters displayed") {
			reportBadTicket(ctx, a.deps, ticket)
			return fmt.Errorf("op=tmb.login: %w", domain.ErrCaptchaWrong)
		}
		return fmt.Errorf("op=tmb.login: dashboard: %w", err)
	}
	return nil
}

func (a *tmbAdapter) FetchStatement(ctx context.Context, cred domain.Credential, _ domain.DateWindow) (string, error) {
	sess := a.deps.Session

	if err := clickLinkText(ctx, sess, "Account Statement"); err != nil {
		return "", fmt.Errorf("op=tmb.fetch: %w", err)
	}
	if err := waitPageText(ctx, sess, "My Transactions", defaultWait); err != nil {
		return "", fmt.Errorf("op=tmb.fetch: %w", err)
	}

	if err := sess.WaitVisible(ctx, "#SEARCH", defaultWait); err != nil {
		return "", fmt.Errorf("op=tmb.fetch: search: %w", err)
	}
	if err := sess.Click(ctx, "#SEARCH"); err != nil {
		return "", fmt.Errorf("op=tmb.fetch: %w", err)
	}

	if err := forceSelectText(ctx, sess, `select[id$=".OUTFORMAT"]`, "XLS"); err != nil {
		return "", fmt.Errorf("op=tmb.fetch: %w", err)
	}

	started := time.Now()
	if err := a.clickDownload(ctx); err != nil {
		return "", fmt.Errorf("op=tmb.fetch: %w", err)
	}

	path, err := filewatch.WaitNewest(ctx, sess.DownloadDir(), started, filewatch.Options{
		Extensions: []string{".xls"},
		Timeout:    60 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("op=tmb.fetch: %w", err)
	}
	return path, nil
}

// clickDownload tries the download control variants the portal ships.
func (a *tmbAdapter) clickDownload(ctx context.Context) error {
	sess := a.deps.Session
	for _, sel := range []string{
		`[name="Action.CUSTOM_GENERATE_REPORTS"]`,
		"#okButton",
		`input[value="Download"]`,
	} {
		if err := sess.Click(ctx, sel); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no download control found: %w", domain.ErrNotFound)
}

func (a *tmbAdapter) ReadBalance(ctx context.Context, cred domain.Credential) (string, error) {
	sess := a.deps.Session

	if err := sess.Click(ctx, "#Account_Summary"); err != nil {
		return "", fmt.Errorf("op=tmb.balance: %w", err)
	}
	if err := waitPageText(ctx, sess, "My Accounts", defaultWait); err != nil {
		return "", fmt.Errorf("op=tmb.balance: %w", err)
	}
	bal, err := sess.Text(ctx, "#SummaryList tr.listwhiterow td:nth-of-type(3)")
	if err != nil {
		return "", fmt.Errorf("op=tmb.balance: %w", err)
	}
	return bal, nil
}
