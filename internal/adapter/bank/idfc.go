package bank

import (
	"context"
	"fmt"
	"time"

	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/pkg/filewatch"
)

const idfcLoginURL = "https://my.idfcfirstbank.com/login"

// idfcAdapter drives IDFC FIRST Bank's retail portal. There is no CAPTCHA;
// login always ends in an SMS OTP that comes in through the chat. Dates go
// through a React datepicker rather than plain inputs.
type idfcAdapter struct {
	deps        Deps
	lastBalance string
}

func newIDFC(deps Deps) *idfcAdapter { return &idfcAdapter{deps: deps} }

func (a *idfcAdapter) Bank() domain.Bank { return domain.BankIDFC }

func (a *idfcAdapter) Login(ctx context.Context, cred domain.Credential) error {
	sess := a.deps.Session

	if err := sess.Navigate(ctx, idfcLoginURL); err != nil {
		return fmt.Errorf("op=idfc.login: %w", err)
	}
	if err := sess.WaitVisible(ctx, `[name="customerUserName"]`, defaultWait); err != nil {
		return fmt.Errorf("op=idfc.login: login form: %w", err)
	}
	if err := sess.Fill(ctx, `[name="customerUserName"]`, cred.AuthID()); err != nil {
		return fmt.Errorf("op=idfc.login: %w", err)
	}
	if err := sess.Click(ctx, `[data-testid="submit-button-id"]`); err != nil {
		return fmt.Errorf("op=idfc.login: %w", err)
	}

	if err := sess.WaitVisible(ctx, "#login-password-input", defaultWait); err != nil {
		return fmt.Errorf("op=idfc.login: password form: %w", err)
	}
	if err := sess.Fill(ctx, "#login-password-input", cred.Password); err != nil {
		return fmt.Errorf("op=idfc.login: %w", err)
	}
	if err := sess.Click(ctx, `[data-testid="login-button"]`); err != nil {
		return fmt.Errorf("op=idfc.login: %w", err)
	}

	if err := sess.WaitVisible(ctx, `[name="otp"]`, defaultWait); err != nil {
		return fmt.Errorf("op=idfc.login: otp form: %w", err)
	}
	otp, err := obtainOTP(ctx, a.deps, "login OTP sent to the registered mobile, please reply with it")
	if err != nil {
		return fmt.Errorf("op=idfc.login: %w", err)
	}
	if err := sess.Fill(ctx, `[name="otp"]`, otp); err != nil {
		return fmt.Errorf("op=idfc.login: %w", err)
	}
	if err := sess.Click(ctx, `[data-testid="verify-otp"]`); err != nil {
		return fmt.Errorf("op=idfc.login: %w", err)
	}

	if err := sess.WaitVisible(ctx, `span[data-testid="Accounts"]`, 60*time.Second); err != nil {
		return fmt.Errorf("op=idfc.login: dashboard: %w", err)
	}
	return nil
}

func (a *idfcAdapter) FetchStatement(ctx context.Context, cred domain.Credential, win domain.DateWindow) (string, error) {
	sess := a.deps.Session

	if err := sess.Click(ctx, `span[data-testid="Accounts"]`); err != nil {
		return "", fmt.Errorf("op=idfc.fetch: %w", err)
	}
	if err := sess.WaitVisible(ctx, `[data-testid="AccountEffectiveBalance-amount"]`, defaultWait); err != nil {
		return "", fmt.Errorf("op=idfc.fetch: account view: %w", err)
	}
	if bal, err := sess.Text(ctx, `[data-testid="AccountEffectiveBalance-amount"]`); err == nil {
		a.lastBalance = bal
	}

	if err := sess.Click(ctx, `[data-testid="download-statement-link"]`); err != nil {
		return "", fmt.Errorf("op=idfc.fetch: %w", err)
	}
	// Fifth period radio is "Custom".
	if err := sess.WaitVisible(ctx, `label[for="AccountStatementDate-4"]`, defaultWait); err != nil {
		return "", fmt.Errorf("op=idfc.fetch: period picker: %w", err)
	}
	if err := sess.Click(ctx, `label[for="AccountStatementDate-4"]`); err != nil {
		return "", fmt.Errorf("op=idfc.fetch: %w", err)
	}

	if err := a.pickDate(ctx, "#custom-from-date", win.From); err != nil {
		return "", fmt.Errorf("op=idfc.fetch: from date: %w", err)
	}
	if err := a.pickDate(ctx, "#custom-to-date", win.To); err != nil {
		return "", fmt.Errorf("op=idfc.fetch: to date: %w", err)
	}

	if err := forceSelectText(ctx, sess, "#select-account-statement-format", "Excel"); err != nil {
		return "", fmt.Errorf("op=idfc.fetch: %w", err)
	}
	started := time.Now()
	if err := sess.Click(ctx, `[data-testid="PrimaryAction"]`); err != nil {
		return "", fmt.Errorf("op=idfc.fetch: %w", err)
	}

	path, err := filewatch.WaitNewest(ctx, sess.DownloadDir(), started, filewatch.Options{
		Extensions: []string{".xlsx"},
		Timeout:    90 * time.Second,
	})
	if err != nil {
		// Some statements still come down as legacy .xls.
		path, err = filewatch.WaitNewest(ctx, sess.DownloadDir(), started, filewatch.Options{
			Extensions: []string{".xls"},
			Timeout:    30 * time.Second,
		})
		if err != nil {
			return "", fmt.Errorf("op=idfc.fetch: %w", err)
		}
	}

	_ = sess.Click(ctx, `[aria-label="Cross"]`)
	return path, nil
}

// pickDate drives the React datepicker behind the given input: open it,
// set month and year through the header selects, click the day cell.
func (a *idfcAdapter) pickDate(ctx context.Context, inputSelector string, day time.Time) error {
	sess := a.deps.Session

	if err := sess.Click(ctx, inputSelector); err != nil {
		return err
	}
	if err := sess.WaitVisible(ctx, ".react-datepicker__header", 10*time.Second); err != nil {
		return err
	}

	// The header month select is zero-based.
	out, err := sess.Eval(ctx, fmt.Sprintf(`
		const header = document.querySelector('.react-datepicker__header');
		if (!header) return "";
		const selects = header.querySelectorAll('select');
		const set = (sel, value) => {
			if (!sel) return;
			sel.value = value;
			sel.dispatchEvent(new Event('change', {bubbles: true}));
		};
		for (const sel of selects) {
			const texts = Array.from(sel.options).map(o => o.text);
			if (texts.includes('January')) set(sel, String(%d));
			else set(sel, String(%d));
		}
		return "ok";`, int(day.Month())-1, day.Year()))
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("datepicker header: %w", domain.ErrNotFound)
	}

	out, err = sess.Eval(ctx, fmt.Sprintf(`
		const want = %s;
		for (const cell of document.querySelectorAll('.react-datepicker__day')) {
			if (cell.className.includes('--outside-month')) continue;
			if (cell.textContent.trim() === want) {
				cell.click();
				return "ok";
			}
		}
		return "";`, jsStr(fmt.Sprintf("%d", day.Day()))))
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("datepicker day %d: %w", day.Day(), domain.ErrNotFound)
	}
	return nil
}

// ReadBalance returns the effective balance captured on the account view
// during the last fetch.
func (a *idfcAdapter) ReadBalance(ctx context.Context, cred domain.Credential) (string, error) {
	if a.lastBalance == "" {
		return "", fmt.Errorf("op=idfc.balance: no balance observed yet: %w", domain.ErrNotFound)
	}
	return a.lastBalance, nil
}
