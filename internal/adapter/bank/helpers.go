package bank

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moshano/autobot/internal/domain"
)

// defaultWait is the per-element wait most portal steps use, matching the
// portals' usual render latency.
const defaultWait = 20 * time.Second

// clickLinkText clicks the first anchor whose rendered text matches.
// Portals built on Finacle navigate almost entirely through link text.
func clickLinkText(ctx context.Context, sess domain.BrowserSession, text string) error {
	out, err := sess.Eval(ctx, fmt.Sprintf(`
		const want = %s;
		for (const a of document.querySelectorAll('a')) {
			if (a.textContent.trim() === want) {
				a.scrollIntoView({block:'center'});
				a.click();
				return "ok";
			}
		}
		return "";`, jsStr(text)))
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("link %q not found: %w", text, domain.ErrNotFound)
	}
	return nil
}

// waitLinkText polls until an anchor with the given text is present.
func waitLinkText(ctx context.Context, sess domain.BrowserSession, text string, timeout time.Duration) error {
	script := fmt.Sprintf(`
		const want = %s;
		for (const a of document.querySelectorAll('a')) {
			if (a.textContent.trim() === want) return "ok";
		}
		return "";`, jsStr(text))
	return pollJS(ctx, sess, script, timeout, fmt.Sprintf("link %q", text))
}

// clickSpanControl clicks the button (or role=button ancestor) behind a
// span with the given text. Oracle JET portals render every control this
// way.
func clickSpanControl(ctx context.Context, sess domain.BrowserSession, text string) error {
	out, err := sess.Eval(ctx, fmt.Sprintf(`
		const want = %s;
		for (const span of document.querySelectorAll('span')) {
			if (span.textContent.trim() !== want) continue;
			const btn = span.closest('button, [role="button"], a') || span;
			btn.scrollIntoView({block:'center'});
			btn.click();
			return "ok";
		}
		return "";`, jsStr(text)))
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("control %q not found: %w", text, domain.ErrNotFound)
	}
	return nil
}

// clickVisibleID clicks the first displayed element with the given id.
// Finacle renders the same submit button several times and hides all but
// one.
func clickVisibleID(ctx context.Context, sess domain.BrowserSession, id string) error {
	out, err := sess.Eval(ctx, fmt.Sprintf(`
		for (const el of document.querySelectorAll('[id=%s]')) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0 && !el.disabled) {
				el.scrollIntoView({block:'center'});
				el.click();
				return "ok";
			}
		}
		return "";`, jsStr(id)))
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("no visible element with id %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

// forceInput writes a value into an input the portal marked readonly,
// firing input and change so the page's own handlers run.
func forceInput(ctx context.Context, sess domain.BrowserSession, selector, value string) error {
	out, err := sess.Eval(ctx, fmt.Sprintf(`
		const el = document.querySelector(%s);
		if (!el) return "";
		el.removeAttribute('readonly');
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return "ok";`, jsStr(selector), jsStr(value)))
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("input %q not found: %w", selector, domain.ErrNotFound)
	}
	return nil
}

// forceSelectText picks the option with the given text on a select the
// portal hides behind a styled dropdown, dispatching change to wake the
// wrapper up.
func forceSelectText(ctx context.Context, sess domain.BrowserSession, selector, optionText string) error {
	out, err := sess.Eval(ctx, fmt.Sprintf(`
		const sel = document.querySelector(%s);
		if (!sel) return "no select";
		const want = %s;
		for (let i = 0; i < sel.options.length; i++) {
			if ((sel.options[i].text || '').trim() === want) {
				sel.selectedIndex = i;
				sel.dispatchEvent(new Event('change', {bubbles: true}));
				return "ok";
			}
		}
		return "no option";`, jsStr(selector), jsStr(optionText)))
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("select %q option %q: %s: %w", selector, optionText, out, domain.ErrNotFound)
	}
	return nil
}

// waitPageText polls until the page's rendered text contains the
// substring.
func waitPageText(ctx context.Context, sess domain.BrowserSession, substr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		if text, err := sess.PageText(ctx); err == nil && strings.Contains(text, substr) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("page text %q: %w", substr, domain.ErrWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// pageContains is a non-blocking page-text check.
func pageContains(ctx context.Context, sess domain.BrowserSession, substr string) bool {
	text, err := sess.PageText(ctx)
	return err == nil && strings.Contains(text, substr)
}

// pollJS polls a script until it returns "ok" or the timeout elapses.
func pollJS(ctx context.Context, sess domain.BrowserSession, script string, timeout time.Duration, what string) error {
	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		if out, err := sess.Eval(ctx, script); err == nil && out == "ok" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: %w", what, domain.ErrWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// jsStr quotes a Go string as a JS string literal.
func jsStr(s string) string { return strconv.Quote(s) }

// ddmmyyyy renders a time the way Finacle date inputs expect.
func ddmmyyyy(t time.Time) string { return t.Format("02/01/2006") }

// mmddyyyy renders a time the way IOB's statement form expects.
func mmddyyyy(t time.Time) string { return t.Format("01/02/2006") }
