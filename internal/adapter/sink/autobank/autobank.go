// Package autobank uploads downloaded statements to the AutoBank portal.
//
// It drives the worker's own browser session: every bank worker funnels
// its statement through the same upload form, so selector changes here
// affect the whole fleet.
package autobank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/moshano/autobot/internal/domain"
)

// Client implements domain.StatementSink against one portal deployment.
type Client struct {
	uploadURL string
	indexURL  string
	waitFor   time.Duration
}

// New constructs a Client from the upload form URL. The operator index
// page used for the login check is derived as a sibling path.
func New(uploadURL string) (*Client, error) {
	u, err := url.Parse(uploadURL)
	if err != nil {
		return nil, fmt.Errorf("op=autobank.new: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("op=autobank.new: incomplete url %q: %w", uploadURL, domain.ErrInvalidArgument)
	}
	idx := *u
	idx.Path = path.Join(path.Dir(u.Path), "operator_index.php")
	idx.RawQuery = ""
	return &Client{
		uploadURL: uploadURL,
		indexURL:  idx.String(),
		waitFor:   20 * time.Second,
	}, nil
}

// Upload submits one statement file through the portal form. The portal
// uploads on file attach; success is a swal success icon or an "Upload
// successful" body text, whichever shows first.
func (c *Client) Upload(ctx domain.Context, sess domain.BrowserSession, bank domain.Bank, accountNumber, filePath string) error {
	if err := c.ensureLoggedIn(ctx, sess); err != nil {
		return fmt.Errorf("op=autobank.upload: %w", err)
	}
	if err := sess.Navigate(ctx, c.uploadURL); err != nil {
		return fmt.Errorf("op=autobank.upload: %w", err)
	}
	if err := sess.WaitVisible(ctx, "#drop-zone", c.waitFor); err != nil {
		return fmt.Errorf("op=autobank.upload: form did not load: %w", err)
	}
	if err := sess.SelectByVisibleText(ctx, "#bank", bank.SinkLabel); err != nil {
		return fmt.Errorf("op=autobank.upload: bank %q: %w", bank.SinkLabel, err)
	}
	if err := sess.Fill(ctx, "#account_number", accountNumber); err != nil {
		return fmt.Errorf("op=autobank.upload: %w", err)
	}
	if err := sess.Fill(ctx, "#file_input", filePath); err != nil {
		return fmt.Errorf("op=autobank.upload: attach %s: %w", filePath, err)
	}
	if err := c.awaitSuccess(ctx, sess); err != nil {
		return err
	}
	slog.Info("statement uploaded",
		slog.String("bank", bank.SinkLabel),
		slog.String("file", path.Base(filePath)))
	return nil
}

// ensureLoggedIn opens the operator index and, when the sidebar is
// missing, clicks through the sign-in button. A missing button is
// tolerated; the upload form is the real test.
func (c *Client) ensureLoggedIn(ctx context.Context, sess domain.BrowserSession) error {
	if err := sess.Navigate(ctx, c.indexURL); err != nil {
		return err
	}
	err := sess.WaitVisible(ctx, "#sidebar", c.waitFor)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrWaitTimeout) {
		return err
	}
	if err := sess.Click(ctx, "a.auth-form-btn"); err != nil {
		slog.Warn("autobank sign-in button not found, continuing", slog.String("error", err.Error()))
		return nil
	}
	if err := sess.WaitVisible(ctx, "#sidebar", c.waitFor); err != nil {
		return fmt.Errorf("sign-in did not reach operator index: %w", err)
	}
	return nil
}

// awaitSuccess polls both success markers until the wait budget runs
// out. The favicon-based swal icon is flaky on the portal, hence the
// body text fallback.
func (c *Client) awaitSuccess(ctx context.Context, sess domain.BrowserSession) error {
	deadline := time.Now().Add(c.waitFor)
	for {
		err := sess.WaitVisible(ctx, ".swal2-icon-success", time.Second)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrWaitTimeout) {
			return err
		}
		text, err := sess.PageText(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(text, "Upload successful") {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("op=autobank.upload: no success marker: %w", domain.ErrUploadFailed)
		}
	}
}
