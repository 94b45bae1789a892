// Package webdriver provides a minimal W3C WebDriver HTTP client used to
// drive one Chrome instance per worker.
//
// Each session gets its own user profile and download directory so
// parallel bank logins never share cookies or collide on statement files.
// See: https://www.w3.org/TR/webdriver2/ for protocol details.
package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// webElementKey is the W3C element reference key in responses.
const webElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Client talks to a chromedriver (or any W3C remote end) at baseURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a WebDriver client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Options shape the Chrome instance backing one session.
type Options struct {
	// ProfileDir is the Chrome user-data-dir; one per alias.
	ProfileDir string
	// DownloadDir receives statement downloads; one per alias.
	DownloadDir string
	// Headless runs Chrome without a display. Off in debug mode.
	Headless bool
}

// NewSession starts a browser session with its own profile and download
// directory.
func (c *Client) NewSession(ctx context.Context, opts Options) (*Session, error) {
	args := []string{
		"--no-first-run",
		"--disable-notifications",
		"--disable-popup-blocking",
		"--window-size=1366,900",
	}
	if opts.ProfileDir != "" {
		args = append(args, "--user-data-dir="+opts.ProfileDir)
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	prefs := map[string]any{
		"download.prompt_for_download": false,
		"download.directory_upgrade":   true,
	}
	if opts.DownloadDir != "" {
		prefs["download.default_directory"] = opts.DownloadDir
	}
	body := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName": "chrome",
				"goog:chromeOptions": map[string]any{
					"args":  args,
					"prefs": prefs,
				},
				"timeouts": map[string]any{
					"pageLoad": 60_000,
					"script":   30_000,
				},
			},
		},
	}

	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/session", body, &out); err != nil {
		return nil, fmt.Errorf("op=webdriver.new_session: %w", err)
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("op=webdriver.new_session: empty session id")
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &Session{
		client:      c,
		id:          out.SessionID,
		downloadDir: opts.DownloadDir,
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
	}
	slog.Debug("webdriver session started", slog.String("session_id", out.SessionID))
	return s, nil
}

// Error is a decoded WebDriver error response.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("webdriver: %s: %s", e.Code, e.Message)
}

// IsNoSuchElement reports whether err is the remote end saying the
// selector matched nothing.
func IsNoSuchElement(err error) bool {
	var wdErr *Error
	return errors.As(err, &wdErr) && wdErr.Code == "no such element"
}

// do performs one protocol request. Every response carries a value
// envelope; error statuses carry {"value":{"error","message"}}.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if method == http.MethodPost {
		if body == nil {
			body = map[string]any{}
		}
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var env struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("webdriver decode status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		wdErr := &Error{}
		if err := json.Unmarshal(env.Value, wdErr); err != nil || wdErr.Code == "" {
			return fmt.Errorf("webdriver status %d", resp.StatusCode)
		}
		return wdErr
	}
	if out != nil {
		if err := json.Unmarshal(env.Value, out); err != nil {
			return fmt.Errorf("webdriver value decode: %w", err)
		}
	}
	return nil
}
