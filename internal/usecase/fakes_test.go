package usecase

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/moshano/autobot/internal/domain"
)

type sentMsg struct {
	ChatID int64
	Text   string
}

type fakeTransport struct {
	mu       sync.Mutex
	messages []sentMsg
	photos   []sentMsg
	failNext int
	calls    int
}

func (t *fakeTransport) SendMessage(_ domain.Context, chatID int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.failNext > 0 {
		t.failNext--
		return fmt.Errorf("transport down")
	}
	t.messages = append(t.messages, sentMsg{ChatID: chatID, Text: text})
	return nil
}

func (t *fakeTransport) SendPhoto(_ domain.Context, chatID int64, caption string, _ []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.photos = append(t.photos, sentMsg{ChatID: chatID, Text: caption})
	return nil
}

func (t *fakeTransport) SendDocument(domain.Context, int64, string, io.Reader) error { return nil }

func (t *fakeTransport) sent() []sentMsg {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentMsg(nil), t.messages...)
}

func (t *fakeTransport) sentPhotos() []sentMsg {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentMsg(nil), t.photos...)
}

func (t *fakeTransport) setFailNext(n int) {
	t.mu.Lock()
	t.failNext = n
	t.mu.Unlock()
}

func (t *fakeTransport) sendCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *fakeNotifier) Notify(_ domain.Context, ev domain.Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *fakeNotifier) all() []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Event(nil), n.events...)
}

func (n *fakeNotifier) count(kind domain.EventKind) int {
	c := 0
	for _, ev := range n.all() {
		if ev.Kind == kind {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) waitFor(kind domain.EventKind, atLeast int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n.count(kind) >= atLeast {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

// fakeSession is an in-memory browser: a list of tab handles and nothing
// else. It satisfies domain.BrowserSession for runtime tests.
type fakeSession struct {
	mu        sync.Mutex
	tabs      []string
	current   string
	nextTab   int
	quitCount int
	newTabErr error
	dir       string
}

func newFakeSession() *fakeSession {
	return &fakeSession{tabs: []string{"tab-0"}, current: "tab-0", nextTab: 1}
}

func (s *fakeSession) Navigate(domain.Context, string) error         { return nil }
func (s *fakeSession) CurrentURL(domain.Context) (string, error)     { return "about:blank", nil }
func (s *fakeSession) PageText(domain.Context) (string, error)       { return "", nil }
func (s *fakeSession) WaitVisible(domain.Context, string, time.Duration) error { return nil }
func (s *fakeSession) Click(domain.Context, string) error            { return nil }
func (s *fakeSession) Fill(domain.Context, string, string) error     { return nil }
func (s *fakeSession) Text(domain.Context, string) (string, error)   { return "", nil }
func (s *fakeSession) SelectByVisibleText(domain.Context, string, string) error { return nil }
func (s *fakeSession) Eval(domain.Context, string) (string, error)   { return "", nil }
func (s *fakeSession) ElementPNG(domain.Context, string) ([]byte, error) {
	return []byte("png"), nil
}
func (s *fakeSession) Screenshot(domain.Context) ([]byte, error) { return []byte("png"), nil }

func (s *fakeSession) NewTab(domain.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newTabErr != nil {
		return "", s.newTabErr
	}
	h := fmt.Sprintf("tab-%d", s.nextTab)
	s.nextTab++
	s.tabs = append(s.tabs, h)
	return h, nil
}

func (s *fakeSession) Tabs(domain.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tabs...), nil
}

func (s *fakeSession) SwitchTab(_ domain.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.tabs {
		if h == handle {
			s.current = handle
			return nil
		}
	}
	return fmt.Errorf("no such tab %q", handle)
}

func (s *fakeSession) CloseTab(_ domain.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tabs[:0]
	for _, h := range s.tabs {
		if h != handle {
			kept = append(kept, h)
		}
	}
	s.tabs = kept
	return nil
}

func (s *fakeSession) DownloadDir() string { return s.dir }

func (s *fakeSession) Quit(domain.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quitCount++
	return nil
}

func (s *fakeSession) tabCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tabs)
}

func (s *fakeSession) quits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quitCount
}

// scriptAdapter plays back queued results per operation; an exhausted
// queue means success.
type scriptAdapter struct {
	bank domain.Bank

	mu          sync.Mutex
	loginErrs   []error
	fetchErrs   []error
	loginAlways error
	fetchAlways error
	balance     string
	loginCalls  int
	fetchCalls  int
}

func (a *scriptAdapter) Bank() domain.Bank { return a.bank }

func (a *scriptAdapter) Login(domain.Context, domain.Credential) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loginCalls++
	if err := popErr(&a.loginErrs); err != nil {
		return err
	}
	return a.loginAlways
}

func (a *scriptAdapter) FetchStatement(domain.Context, domain.Credential, domain.DateWindow) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchCalls++
	if err := popErr(&a.fetchErrs); err != nil {
		return "", err
	}
	if a.fetchAlways != nil {
		return "", a.fetchAlways
	}
	return fmt.Sprintf("/downloads/stmt-%d.xls", a.fetchCalls), nil
}

func (a *scriptAdapter) ReadBalance(domain.Context, domain.Credential) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

func (a *scriptAdapter) logins() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginCalls
}

func (a *scriptAdapter) fetches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetchCalls
}

func popErr(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

// logoutAdapter adds DetectLoggedOut playback on top of scriptAdapter.
type logoutAdapter struct {
	*scriptAdapter
	mu     sync.Mutex
	events []bool
}

func (a *logoutAdapter) DetectLoggedOut(domain.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == 0 {
		return false, nil
	}
	out := a.events[0]
	a.events = a.events[1:]
	return out, nil
}

type fakeSink struct {
	mu     sync.Mutex
	errs   []error
	always error
	calls  int
	files  []string
}

func (s *fakeSink) Upload(_ domain.Context, _ domain.BrowserSession, _ domain.Bank, _ string, file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := popErr(&s.errs); err != nil {
		return err
	}
	if s.always != nil {
		return s.always
	}
	s.files = append(s.files, file)
	return nil
}

func (s *fakeSink) uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeStore is an in-memory credential store.
type fakeStore struct {
	mu    sync.Mutex
	creds []domain.Credential
}

func (s *fakeStore) Load(domain.Context) ([]domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Credential(nil), s.creds...), nil
}

func (s *fakeStore) Update(_ domain.Context, alias, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.creds {
		if s.creds[i].Alias != alias {
			continue
		}
		switch field {
		case "login_id":
			s.creds[i].LoginID = value
		case "user_id":
			s.creds[i].UserID = value
		case "password":
			s.creds[i].Password = value
		case "account_number":
			s.creds[i].AccountNumber = value
		}
		return nil
	}
	return fmt.Errorf("alias %q: %w", alias, domain.ErrNotFound)
}

func (s *fakeStore) Append(_ domain.Context, c domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.creds {
		if have.Alias == c.Alias || have.AccountNumber == c.AccountNumber {
			return fmt.Errorf("duplicate of %q: %w", have.Alias, domain.ErrConflict)
		}
	}
	s.creds = append(s.creds, c)
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	err      error
	sessions map[string]*fakeSession
}

func (f *fakeSessions) NewSession(_ context.Context, alias string) (domain.BrowserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.sessions == nil {
		f.sessions = map[string]*fakeSession{}
	}
	s := newFakeSession()
	f.sessions[alias] = s
	return s, nil
}
