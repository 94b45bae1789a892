package domain

import (
	"context"
	"errors"
	"io"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyRunning  = errors.New("already running")
	ErrUnsupportedBank = errors.New("unsupported bank")
	ErrLoggedOut       = errors.New("logged out")
	ErrCaptchaWrong    = errors.New("captcha rejected")
	ErrWaitTimeout     = errors.New("wait timeout")
	ErrUploadFailed    = errors.New("upload failed")
	ErrStopped         = errors.New("worker stopped")
)

// Credential is an immutable snapshot of one store row.
// Invariants: Alias non-empty; AuthID() non-empty; Password and
// AccountNumber non-empty for a row to be usable by a worker.
type Credential struct {
	Alias         string
	LoginID       string
	UserID        string
	Username      string
	Password      string
	AccountNumber string
	BankLabel     string
}

// AuthID is the identity typed into the portal's first login field:
// the first non-empty of Username, LoginID, UserID.
func (c Credential) AuthID() string {
	if c.Username != "" {
		return c.Username
	}
	if c.LoginID != "" {
		return c.LoginID
	}
	return c.UserID
}

// EditableCredentialFields are the store columns EditCredential accepts.
var EditableCredentialFields = []string{"login_id", "user_id", "password", "account_number"}

// EditableField reports whether field is one of EditableCredentialFields.
func EditableField(field string) bool {
	for _, f := range EditableCredentialFields {
		if f == field {
			return true
		}
	}
	return false
}

type WorkerState string

const (
	WorkerInit       WorkerState = "init"
	WorkerLoggingIn  WorkerState = "logging_in"
	WorkerSteady     WorkerState = "steady"
	WorkerRecovering WorkerState = "recovering"
	WorkerStopped    WorkerState = "stopped"
)

// Terminal reports whether the state ends the worker's life.
func (s WorkerState) Terminal() bool { return s == WorkerStopped }

// WorkerStatus is the read-only snapshot queries observe.
type WorkerStatus struct {
	Alias        string
	Bank         string
	State        WorkerState
	LastBalance  string
	LastUploadAt time.Time
	StartedAt    time.Time
	RunID        string
}

// Alive reports whether the worker is in any non-terminal state.
func (s WorkerStatus) Alive() bool { return !s.State.Terminal() }

type EventKind string

const (
	EventError    EventKind = "ERROR"
	EventStart    EventKind = "START"
	EventStop     EventKind = "STOP"
	EventCaptcha  EventKind = "CAPTCHA"
	EventOTP      EventKind = "OTP"
	EventUploadOK EventKind = "UPLOAD_OK"
	EventInfo     EventKind = "INFO"
	EventAlert    EventKind = "ALERT"
)

// Critical kinds bypass batching and are delivered immediately.
func (k EventKind) Critical() bool {
	switch k {
	case EventError, EventStart, EventStop, EventCaptcha, EventOTP, EventUploadOK:
		return true
	}
	return false
}

// Event is one outbound notification. Photos ride along only on
// immediate delivery; batched events drop them.
type Event struct {
	ID     string
	Kind   EventKind
	Alias  string
	Text   string
	Photos [][]byte
	At     time.Time
}

// CredentialStore (port)
// Writes are single-writer and atomic (read-all, modify, write-all);
// callers rebuild their in-memory copy after every successful write.

type CredentialStore interface {
	Load(ctx Context) ([]Credential, error)
	Update(ctx Context, alias, field, value string) error
	Append(ctx Context, c Credential) error
}

// BrowserSession (port)
// One isolated browser per worker with a dedicated profile and download
// directory. Quit may be called from another goroutine and interrupts
// in-flight calls.

type BrowserSession interface {
	Navigate(ctx Context, url string) error
	CurrentURL(ctx Context) (string, error)
	PageText(ctx Context) (string, error)
	WaitVisible(ctx Context, selector string, timeout time.Duration) error
	Click(ctx Context, selector string) error
	Fill(ctx Context, selector, text string) error
	Text(ctx Context, selector string) (string, error)
	SelectByVisibleText(ctx Context, selector, label string) error
	Eval(ctx Context, script string) (string, error)
	ElementPNG(ctx Context, selector string) ([]byte, error)
	Screenshot(ctx Context) ([]byte, error)
	NewTab(ctx Context) (string, error)
	Tabs(ctx Context) ([]string, error)
	SwitchTab(ctx Context, handle string) error
	CloseTab(ctx Context, handle string) error
	DownloadDir() string
	Quit(ctx Context) error
}

// CaptchaSolver (port)
// Solve returns the decoded text plus a ticket usable with ReportBad when
// the portal rejects the answer. Enabled is false when no API key is set.

type CaptchaSolver interface {
	Enabled() bool
	Solve(ctx Context, image []byte) (text, ticket string, err error)
	ReportBad(ctx Context, ticket string) error
}

// StatementSink (port)

type StatementSink interface {
	Upload(ctx Context, sess BrowserSession, bank Bank, accountNumber, filePath string) error
}

// ChatTransport (port)

type ChatTransport interface {
	SendMessage(ctx Context, chatID int64, text string) error
	SendPhoto(ctx Context, chatID int64, caption string, png []byte) error
	SendDocument(ctx Context, chatID int64, name string, r io.Reader) error
}

// Notifier (port)
// Fire-and-forget; implementations own retries and drop policy.

type Notifier interface {
	Notify(ctx Context, ev Event)
}

// BankAdapter (port)
// Adapters contain portal navigation only. Retry, screenshots,
// cancellation and tab management belong to the worker runtime.

type BankAdapter interface {
	Bank() Bank
	Login(ctx Context, cred Credential) error
	FetchStatement(ctx Context, cred Credential, win DateWindow) (string, error)
	ReadBalance(ctx Context, cred Credential) (string, error)
}

// LogoutDetector is optionally implemented by adapters that can observe a
// server-side session invalidation; the runtime checks it before each
// steady iteration.

type LogoutDetector interface {
	DetectLoggedOut(ctx Context) (bool, error)
}

// CodeWaiter (port)
// Implemented by the worker runtime: blocks on the CAPTCHA/OTP inbox,
// polling with stop checks, until a code arrives or the bound expires.

type CodeWaiter interface {
	WaitCaptcha(ctx Context, timeout time.Duration) (string, error)
	WaitOTP(ctx Context, timeout time.Duration) (string, error)
}

// Context is an alias to allow decoupling from std context in domain.
// Adapters and usecases pass context.Context through.

type Context = context.Context
