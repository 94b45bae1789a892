// Package twocaptcha provides a minimal 2Captcha HTTP client used to solve
// image CAPTCHAs.
//
// It submits the image to in.php and polls res.php until the human-solved
// text arrives. A circuit breaker shields the login flow: when the service
// keeps failing, Solve errors fast and the caller falls back to asking the
// operators over chat.
package twocaptcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/moshano/autobot/internal/adapter/observability"
	"github.com/moshano/autobot/internal/domain"
	obsctx "github.com/moshano/autobot/internal/observability"
)

// Client is a minimal 2Captcha HTTP client implementing domain.CaptchaSolver.
// See: https://2captcha.com/2captcha-api for API details.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *obsctx.CircuitBreaker
}

// New constructs a 2Captcha client. An empty apiKey disables the solver.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://2captcha.com"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    obsctx.NewCircuitBreaker(3, 2*time.Minute),
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c.apiKey != "" }

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the CAPTCHA image and polls for the solved text. The
// returned ticket identifies the submission for ReportBad.
func (c *Client) Solve(ctx domain.Context, image []byte) (string, string, error) {
	if !c.Enabled() {
		return "", "", fmt.Errorf("2captcha: no api key configured")
	}
	if !c.breaker.CanExecute() {
		return "", "", fmt.Errorf("2captcha: circuit open, solver unavailable")
	}

	id, err := c.submit(ctx, image)
	if err != nil {
		c.breaker.RecordFailure()
		observability.CaptchaSolvesTotal.WithLabelValues("error").Inc()
		return "", "", err
	}
	text, err := c.poll(ctx, id)
	if err != nil {
		c.breaker.RecordFailure()
		observability.CaptchaSolvesTotal.WithLabelValues("error").Inc()
		return "", "", err
	}
	c.breaker.RecordSuccess()
	observability.CaptchaSolvesTotal.WithLabelValues("ok").Inc()
	return text, id, nil
}

// submit posts the base64 image to in.php and returns the captcha id.
func (c *Client) submit(ctx context.Context, image []byte) (string, error) {
	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("method", "base64")
	form.Set("body", base64.StdEncoding.EncodeToString(image))
	form.Set("json", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("2captcha submit: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("2captcha submit status %d", resp.StatusCode)
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("2captcha submit decode: %w", err)
	}
	if out.Status != 1 {
		return "", fmt.Errorf("2captcha submit rejected: %s", out.Request)
	}
	return out.Request, nil
}

// poll asks res.php for the answer until it is ready or the poll budget
// runs out. CAPCHA_NOT_READY (2Captcha's spelling) means keep waiting.
func (c *Client) poll(ctx context.Context, id string) (string, error) {
	var text string
	op := func() error {
		q := url.Values{}
		q.Set("key", c.apiKey)
		q.Set("action", "get")
		q.Set("id", id)
		q.Set("json", "1")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/res.php?"+q.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("2captcha poll: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("2captcha poll status %d", resp.StatusCode)
		}
		var out apiResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("2captcha poll decode: %w", err))
		}
		if out.Status == 1 {
			text = out.Request
			return nil
		}
		if out.Request == "CAPCHA_NOT_READY" {
			return fmt.Errorf("2captcha: not ready")
		}
		return backoff.Permanent(fmt.Errorf("2captcha poll rejected: %s", out.Request))
	}

	pol := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(domain.CaptchaPoll.Delay), uint64(domain.CaptchaPoll.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, pol); err != nil {
		return "", err
	}
	return text, nil
}

// ReportBad tells 2Captcha the answer for the given ticket was rejected by
// the portal so the spend is refunded.
func (c *Client) ReportBad(ctx domain.Context, ticket string) error {
	if !c.Enabled() || ticket == "" {
		return nil
	}
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("action", "reportbad")
	q.Set("id", ticket)
	q.Set("json", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/res.php?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("2captcha reportbad: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("2captcha reportbad status %d", resp.StatusCode)
	}
	return nil
}
