// Package bank contains one navigation adapter per supported portal. An
// adapter drives the portal through the shared BrowserSession: login,
// statement download, balance read. Everything else, retries, screenshots,
// tab hygiene and cancellation, belongs to the worker runtime; adapters
// report failures as plain errors and classify only the two the runtime
// treats specially, domain.ErrCaptchaWrong and domain.ErrLoggedOut.
package bank

import (
	"fmt"

	"github.com/moshano/autobot/internal/domain"
)

// Deps are the collaborators an adapter navigates with. Codes is the
// worker's CAPTCHA/OTP inbox; Alias tags chat prompts so operators know
// which account is asking.
type Deps struct {
	Alias    string
	Session  domain.BrowserSession
	Solver   domain.CaptchaSolver
	Codes    domain.CodeWaiter
	Notifier domain.Notifier
}

// New builds the adapter for the given bank.
func New(b domain.Bank, deps Deps) (domain.BankAdapter, error) {
	switch b.Label {
	case domain.BankTMB.Label:
		return newTMB(deps), nil
	case domain.BankIOB.Label:
		return newIOB(deps, false), nil
	case domain.BankIOBCorporate.Label:
		return newIOB(deps, true), nil
	case domain.BankKGB.Label:
		return newKGB(deps), nil
	case domain.BankIDBI.Label:
		return newIDBI(deps), nil
	case domain.BankIDFC.Label:
		return newIDFC(deps), nil
	case domain.BankCanara.Label:
		return newCanara(deps), nil
	default:
		return nil, fmt.Errorf("bank %q: %w", b.Label, domain.ErrUnsupportedBank)
	}
}
