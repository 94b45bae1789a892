package webdriver_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moshano/autobot/internal/adapter/browser/webdriver"
	"github.com/moshano/autobot/internal/domain"
)

const elementKey = "element-6066-11e4-a52e-4f735466cecf"

// fakeDriver is a minimal in-memory chromedriver. Element ids are opaque
// URL-safe handles like a real driver's UUIDs; elements maps selectors to
// the handle the fake minted for them.
type fakeDriver struct {
	mux          *http.ServeMux
	capabilities map[string]any
	currentURL   string
	scriptResult any
	filled       map[string]string
	cleared      []string
	elements     map[string]string
	nextElement  int
}

func (d *fakeDriver) idFor(selector string) string {
	if id, ok := d.elements[selector]; ok {
		return id
	}
	d.nextElement++
	id := fmt.Sprintf("el-%d", d.nextElement)
	d.elements[selector] = id
	return id
}

func newFakeDriver(t *testing.T) (*fakeDriver, *httptest.Server) {
	t.Helper()
	d := &fakeDriver{mux: http.NewServeMux(), filled: map[string]string{}, elements: map[string]string{}}

	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"value": v})
	}

	d.mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Capabilities struct {
				AlwaysMatch map[string]any `json:"alwaysMatch"`
			} `json:"capabilities"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		d.capabilities = body.Capabilities.AlwaysMatch
		reply(w, map[string]any{"sessionId": "sess-1"})
	})
	d.mux.HandleFunc("POST /session/sess-1/url", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		d.currentURL = body.URL
		reply(w, nil)
	})
	d.mux.HandleFunc("GET /session/sess-1/url", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, d.currentURL)
	})
	d.mux.HandleFunc("POST /session/sess-1/element", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value string `json:"value"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if strings.Contains(body.Value, "missing") {
			w.WriteHeader(http.StatusNotFound)
			reply(w, map[string]any{"error": "no such element", "message": "no element matches " + body.Value})
			return
		}
		reply(w, map[string]string{elementKey: d.idFor(body.Value)})
	})
	d.mux.HandleFunc("POST /session/sess-1/element/{id}/clear", func(w http.ResponseWriter, r *http.Request) {
		d.cleared = append(d.cleared, r.PathValue("id"))
		reply(w, nil)
	})
	d.mux.HandleFunc("POST /session/sess-1/element/{id}/value", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		d.filled[r.PathValue("id")] = body.Text
		reply(w, nil)
	})
	d.mux.HandleFunc("POST /session/sess-1/element/{id}/click", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, nil)
	})
	d.mux.HandleFunc("GET /session/sess-1/element/{id}/text", func(w http.ResponseWriter, r *http.Request) {
		reply(w, "text of "+r.PathValue("id"))
	})
	d.mux.HandleFunc("GET /session/sess-1/screenshot", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, base64.StdEncoding.EncodeToString([]byte("png-bytes")))
	})
	d.mux.HandleFunc("POST /session/sess-1/execute/sync", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, d.scriptResult)
	})
	d.mux.HandleFunc("GET /session/sess-1/window/handles", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, []string{"h1", "h2"})
	})
	d.mux.HandleFunc("POST /session/sess-1/window/new", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, map[string]any{"handle": "h2", "type": "tab"})
	})
	d.mux.HandleFunc("POST /session/sess-1/window", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, nil)
	})
	d.mux.HandleFunc("DELETE /session/sess-1/window", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, []string{"h1"})
	})
	d.mux.HandleFunc("DELETE /session/sess-1", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, nil)
	})

	srv := httptest.NewServer(d.mux)
	t.Cleanup(srv.Close)
	return d, srv
}

func newSession(t *testing.T, srv *httptest.Server, opts webdriver.Options) *webdriver.Session {
	t.Helper()
	c := webdriver.New(srv.URL)
	s, err := c.NewSession(context.Background(), opts)
	require.NoError(t, err)
	return s
}

func TestNewSessionCapabilities(t *testing.T) {
	t.Parallel()
	d, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{
		ProfileDir:  "/profiles/alpha_tmb",
		DownloadDir: "/downloads/alpha_tmb",
		Headless:    true,
	})
	assert.Equal(t, "sess-1", s.ID())
	assert.Equal(t, "/downloads/alpha_tmb", s.DownloadDir())

	chrome, ok := d.capabilities["goog:chromeOptions"].(map[string]any)
	require.True(t, ok, "capabilities = %v", d.capabilities)
	args := fmt.Sprintf("%v", chrome["args"])
	assert.Contains(t, args, "--user-data-dir=/profiles/alpha_tmb")
	assert.Contains(t, args, "--headless=new")
	prefs, ok := chrome["prefs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/downloads/alpha_tmb", prefs["download.default_directory"])
}

func TestNavigateAndCurrentURL(t *testing.T) {
	t.Parallel()
	_, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{})

	require.NoError(t, s.Navigate(context.Background(), "https://bank.example/login"))
	url, err := s.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://bank.example/login", url)
}

func TestFillClearsThenTypes(t *testing.T) {
	t.Parallel()
	d, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{})

	require.NoError(t, s.Fill(context.Background(), "#password", "s3cret"))
	id := d.elements["#password"]
	require.NotEmpty(t, id)
	assert.Equal(t, []string{id}, d.cleared)
	assert.Equal(t, "s3cret", d.filled[id])
}

func TestTextAndClick(t *testing.T) {
	t.Parallel()
	d, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{})

	text, err := s.Text(context.Background(), "#balance")
	require.NoError(t, err)
	assert.Equal(t, "text of "+d.elements["#balance"], text)
	require.NoError(t, s.Click(context.Background(), "#submit"))
}

func TestClickNoSuchElement(t *testing.T) {
	t.Parallel()
	_, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{})

	err := s.Click(context.Background(), "#missing")
	require.Error(t, err)
	assert.True(t, webdriver.IsNoSuchElement(err), "err = %v", err)
}

func TestWaitVisible(t *testing.T) {
	t.Parallel()
	d, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{})

	d.scriptResult = true
	require.NoError(t, s.WaitVisible(context.Background(), "#otp", time.Second))

	d.scriptResult = false
	err := s.WaitVisible(context.Background(), "#otp", 300*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrWaitTimeout), "err = %v", err)
}

func TestSelectByVisibleText(t *testing.T) {
	t.Parallel()
	d, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{})

	d.scriptResult = ""
	require.NoError(t, s.SelectByVisibleText(context.Background(), "#bank", "Canara Bank"))

	d.scriptResult = "no option"
	err := s.SelectByVisibleText(context.Background(), "#bank", "Nope Bank")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "err = %v", err)
}

func TestEvalStringifiesResults(t *testing.T) {
	t.Parallel()
	d, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{})

	d.scriptResult = "plain"
	got, err := s.Eval(context.Background(), "return 'plain';")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	d.scriptResult = 42
	got, err = s.Eval(context.Background(), "return 42;")
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	d.scriptResult = nil
	got, err = s.Eval(context.Background(), "return null;")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestScreenshot(t *testing.T) {
	t.Parallel()
	_, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{})

	png, err := s.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), png)
}

func TestTabs(t *testing.T) {
	t.Parallel()
	_, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{})
	ctx := context.Background()

	handle, err := s.NewTab(ctx)
	require.NoError(t, err)
	assert.Equal(t, "h2", handle)

	handles, err := s.Tabs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, handles)

	require.NoError(t, s.SwitchTab(ctx, "h2"))
	require.NoError(t, s.CloseTab(ctx, "h2"))
}

func TestQuitWorksWithCancelledContext(t *testing.T) {
	t.Parallel()
	_, srv := newFakeDriver(t)
	s := newSession(t, srv, webdriver.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Quit(ctx))
}

func TestQuitInterruptsInFlightCalls(t *testing.T) {
	t.Parallel()
	d, srv := newFakeDriver(t)
	blocked := make(chan struct{})
	s := newSession(t, srv, webdriver.Options{})
	d.elements["block"] = "el-block"

	// A handler that never replies until the session is quit.
	d.mux.HandleFunc("GET /session/sess-1/element/el-block/text", func(w http.ResponseWriter, r *http.Request) {
		close(blocked)
		<-r.Context().Done()
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.Text(context.Background(), "block")
		done <- err
	}()

	<-blocked
	require.NoError(t, s.Quit(context.Background()))
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("in-flight call not interrupted by Quit")
	}
}
