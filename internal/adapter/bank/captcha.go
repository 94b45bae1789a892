package bank

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/moshano/autobot/internal/adapter/observability"
	"github.com/moshano/autobot/internal/domain"
)

// obtainCaptcha produces the CAPTCHA text for the image at imgSelector:
// the remote solver first when one is configured, otherwise the image goes
// to chat and the worker's inbox is polled for an operator answer. The
// returned ticket is non-empty only for solver answers and feeds
// reportBadTicket when the portal rejects the text.
func obtainCaptcha(ctx context.Context, d Deps, imgSelector string) (code, ticket string, err error) {
	png, err := d.Session.ElementPNG(ctx, imgSelector)
	if err != nil {
		return "", "", fmt.Errorf("op=bank.captcha: capture %q: %w", imgSelector, err)
	}

	if d.Solver != nil && d.Solver.Enabled() {
		text, tick, solveErr := d.Solver.Solve(ctx, png)
		if solveErr == nil && text != "" {
			return normalizeCode(text), tick, nil
		}
		if solveErr != nil {
			slog.Warn("captcha solver failed, falling back to chat",
				slog.String("alias", d.Alias), slog.String("error", solveErr.Error()))
		}
	}

	d.Notifier.Notify(ctx, domain.Event{
		Kind:   domain.EventCaptcha,
		Alias:  d.Alias,
		Text:   "please solve this CAPTCHA",
		Photos: [][]byte{png},
		At:     time.Now(),
	})
	text, err := d.Codes.WaitCaptcha(ctx, domain.CaptchaWaitTimeout)
	if err != nil {
		return "", "", fmt.Errorf("op=bank.captcha: manual solve: %w", err)
	}
	observability.CaptchaSolvesTotal.WithLabelValues("manual").Inc()
	return normalizeCode(text), "", nil
}

// reportBadTicket tells the solver its answer was rejected. Best-effort;
// a manual answer has no ticket.
func reportBadTicket(ctx context.Context, d Deps, ticket string) {
	if ticket == "" || d.Solver == nil {
		return
	}
	if err := d.Solver.ReportBad(ctx, ticket); err != nil {
		slog.Warn("captcha report-bad failed",
			slog.String("alias", d.Alias), slog.String("error", err.Error()))
	}
}

// obtainOTP prompts the chat for a one-time password and waits on the
// worker's inbox.
func obtainOTP(ctx context.Context, d Deps, prompt string) (string, error) {
	d.Notifier.Notify(ctx, domain.Event{
		Kind:  domain.EventOTP,
		Alias: d.Alias,
		Text:  prompt,
		At:    time.Now(),
	})
	code, err := d.Codes.WaitOTP(ctx, domain.OTPWaitTimeout)
	if err != nil {
		return "", fmt.Errorf("op=bank.otp: %w", err)
	}
	return strings.TrimSpace(code), nil
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}
