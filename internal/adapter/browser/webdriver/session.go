package webdriver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/moshano/autobot/internal/domain"
)

// Session is one live browser, implementing domain.BrowserSession.
// Quit may be called from another goroutine; it interrupts in-flight
// calls before tearing the browser down.
type Session struct {
	client      *Client
	id          string
	downloadDir string
	rootCtx     context.Context
	rootCancel  context.CancelFunc
}

// ID returns the remote session id.
func (s *Session) ID() string { return s.id }

// DownloadDir returns the directory Chrome saves downloads into.
func (s *Session) DownloadDir() string { return s.downloadDir }

func (s *Session) path(suffix string) string { return "/session/" + s.id + suffix }

// reqCtx derives a call context that also dies when the session is quit.
func (s *Session) reqCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.rootCtx, cancel)
	return ctx, func() { stop(); cancel() }
}

func (s *Session) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := s.reqCtx(ctx)
	defer cancel()
	return s.client.do(ctx, method, path, body, out)
}

// Navigate loads the given URL in the current tab.
func (s *Session) Navigate(ctx domain.Context, url string) error {
	if err := s.do(ctx, http.MethodPost, s.path("/url"), map[string]any{"url": url}, nil); err != nil {
		return fmt.Errorf("op=webdriver.navigate: %w", err)
	}
	return nil
}

// CurrentURL returns the current tab's URL.
func (s *Session) CurrentURL(ctx domain.Context) (string, error) {
	var url string
	if err := s.do(ctx, http.MethodGet, s.path("/url"), nil, &url); err != nil {
		return "", fmt.Errorf("op=webdriver.current_url: %w", err)
	}
	return url, nil
}

// PageText returns the rendered text of the whole page.
func (s *Session) PageText(ctx domain.Context) (string, error) {
	out, err := s.execute(ctx, `return document.body ? document.body.innerText : "";`)
	if err != nil {
		return "", fmt.Errorf("op=webdriver.page_text: %w", err)
	}
	text, _ := out.(string)
	return text, nil
}

// findElement resolves a CSS selector to a W3C element id.
func (s *Session) findElement(ctx context.Context, selector string) (string, error) {
	var ref map[string]string
	body := map[string]any{"using": "css selector", "value": selector}
	if err := s.do(ctx, http.MethodPost, s.path("/element"), body, &ref); err != nil {
		return "", err
	}
	id := ref[webElementKey]
	if id == "" {
		return "", fmt.Errorf("webdriver: element reference missing for %q", selector)
	}
	return id, nil
}

// visible reports whether the selector matches an element with a
// non-empty box.
func (s *Session) visible(ctx context.Context, selector string) (bool, error) {
	out, err := s.execute(ctx, `
		const el = document.querySelector(arguments[0]);
		if (!el) return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;`, selector)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

// WaitVisible polls until the selector matches a visible element or the
// timeout elapses. Transient script errors during page transitions are
// absorbed by the poll loop.
func (s *Session) WaitVisible(ctx domain.Context, selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		visible, err := s.visible(ctx, selector)
		if err == nil && visible {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("wait visible %q: %w", selector, domain.ErrWaitTimeout)
			}
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// Click clicks the first element matching the selector.
func (s *Session) Click(ctx domain.Context, selector string) error {
	id, err := s.findElement(ctx, selector)
	if err != nil {
		return fmt.Errorf("op=webdriver.click %q: %w", selector, err)
	}
	if err := s.do(ctx, http.MethodPost, s.path("/element/"+id+"/click"), nil, nil); err != nil {
		return fmt.Errorf("op=webdriver.click %q: %w", selector, err)
	}
	return nil
}

// Fill clears the matching input and types text into it.
func (s *Session) Fill(ctx domain.Context, selector, text string) error {
	id, err := s.findElement(ctx, selector)
	if err != nil {
		return fmt.Errorf("op=webdriver.fill %q: %w", selector, err)
	}
	if err := s.do(ctx, http.MethodPost, s.path("/element/"+id+"/clear"), nil, nil); err != nil {
		return fmt.Errorf("op=webdriver.fill %q: %w", selector, err)
	}
	if err := s.do(ctx, http.MethodPost, s.path("/element/"+id+"/value"), map[string]any{"text": text}, nil); err != nil {
		return fmt.Errorf("op=webdriver.fill %q: %w", selector, err)
	}
	return nil
}

// Text returns the rendered text of the first element matching the
// selector.
func (s *Session) Text(ctx domain.Context, selector string) (string, error) {
	id, err := s.findElement(ctx, selector)
	if err != nil {
		return "", fmt.Errorf("op=webdriver.text %q: %w", selector, err)
	}
	var text string
	if err := s.do(ctx, http.MethodGet, s.path("/element/"+id+"/text"), nil, &text); err != nil {
		return "", fmt.Errorf("op=webdriver.text %q: %w", selector, err)
	}
	return text, nil
}

// SelectByVisibleText picks the option whose label matches the given
// text and fires a change event, the way a human using the dropdown
// would.
func (s *Session) SelectByVisibleText(ctx domain.Context, selector, label string) error {
	out, err := s.execute(ctx, `
		const sel = document.querySelector(arguments[0]);
		if (!sel) return "no select";
		const want = arguments[1].trim();
		for (const opt of sel.options) {
			if (opt.text.trim() === want || opt.label.trim() === want) {
				sel.value = opt.value;
				sel.dispatchEvent(new Event("change", {bubbles: true}));
				return "";
			}
		}
		return "no option";`, selector, label)
	if err != nil {
		return fmt.Errorf("op=webdriver.select %q: %w", selector, err)
	}
	switch out {
	case "":
		return nil
	case "no select":
		return fmt.Errorf("op=webdriver.select: no select matches %q: %w", selector, domain.ErrNotFound)
	default:
		return fmt.Errorf("op=webdriver.select: option %q not in %q: %w", label, selector, domain.ErrNotFound)
	}
}

// execute runs a script synchronously in the page.
func (s *Session) execute(ctx context.Context, script string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	var out any
	body := map[string]any{"script": script, "args": args}
	if err := s.do(ctx, http.MethodPost, s.path("/execute/sync"), body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Eval runs a script and returns its result as a string. Non-string
// results are JSON-encoded.
func (s *Session) Eval(ctx domain.Context, script string) (string, error) {
	out, err := s.execute(ctx, script)
	if err != nil {
		return "", fmt.Errorf("op=webdriver.eval: %w", err)
	}
	switch v := out.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("op=webdriver.eval: %w", err)
		}
		return string(b), nil
	}
}

// ElementPNG screenshots the first element matching the selector.
func (s *Session) ElementPNG(ctx domain.Context, selector string) ([]byte, error) {
	id, err := s.findElement(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("op=webdriver.element_png %q: %w", selector, err)
	}
	var b64 string
	if err := s.do(ctx, http.MethodGet, s.path("/element/"+id+"/screenshot"), nil, &b64); err != nil {
		return nil, fmt.Errorf("op=webdriver.element_png %q: %w", selector, err)
	}
	png, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("op=webdriver.element_png: %w", err)
	}
	return png, nil
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx domain.Context) ([]byte, error) {
	var b64 string
	if err := s.do(ctx, http.MethodGet, s.path("/screenshot"), nil, &b64); err != nil {
		return nil, fmt.Errorf("op=webdriver.screenshot: %w", err)
	}
	png, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("op=webdriver.screenshot: %w", err)
	}
	return png, nil
}

// NewTab opens a tab and returns its handle without switching to it.
func (s *Session) NewTab(ctx domain.Context) (string, error) {
	var out struct {
		Handle string `json:"handle"`
	}
	if err := s.do(ctx, http.MethodPost, s.path("/window/new"), map[string]any{"type": "tab"}, &out); err != nil {
		return "", fmt.Errorf("op=webdriver.new_tab: %w", err)
	}
	return out.Handle, nil
}

// Tabs lists all window handles.
func (s *Session) Tabs(ctx domain.Context) ([]string, error) {
	var handles []string
	if err := s.do(ctx, http.MethodGet, s.path("/window/handles"), nil, &handles); err != nil {
		return nil, fmt.Errorf("op=webdriver.tabs: %w", err)
	}
	return handles, nil
}

// SwitchTab makes the given handle the current tab.
func (s *Session) SwitchTab(ctx domain.Context, handle string) error {
	if err := s.do(ctx, http.MethodPost, s.path("/window"), map[string]any{"handle": handle}, nil); err != nil {
		return fmt.Errorf("op=webdriver.switch_tab: %w", err)
	}
	return nil
}

// CloseTab closes the given tab. The caller switches to a surviving
// handle afterwards.
func (s *Session) CloseTab(ctx domain.Context, handle string) error {
	if err := s.SwitchTab(ctx, handle); err != nil {
		return fmt.Errorf("op=webdriver.close_tab: %w", err)
	}
	if err := s.do(ctx, http.MethodDelete, s.path("/window"), nil, nil); err != nil {
		return fmt.Errorf("op=webdriver.close_tab: %w", err)
	}
	return nil
}

// Quit interrupts any in-flight calls and deletes the remote session.
// It works even when the caller's context is already cancelled, which
// is the normal case during worker shutdown.
func (s *Session) Quit(ctx domain.Context) error {
	s.rootCancel()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.client.do(ctx, http.MethodDelete, s.path(""), nil, nil); err != nil {
		return fmt.Errorf("op=webdriver.quit: %w", err)
	}
	slog.Debug("webdriver session closed", slog.String("session_id", s.id))
	return nil
}
