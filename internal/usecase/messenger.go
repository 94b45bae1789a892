// Package usecase contains the supervisor core: the worker runtime and its
// state machine, the registry of live workers, the balance monitor, and the
// messenger that carries their events out to chat.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/moshano/autobot/internal/adapter/observability"
	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/pkg/textx"
)

// chatTextLimit is the transport's hard message-size cap.
const chatTextLimit = 4096

// Messenger implements domain.Notifier. Producers on any goroutine enqueue
// events; one delivery goroutine owns the transport. Critical kinds pass
// through immediately, the rest batch into one aggregated message per flush
// interval. Photos ride only on pass-through sends; batched photos are
// dropped by design.
type Messenger struct {
	transport domain.ChatTransport
	chatID    int64
	debug     bool

	queue chan domain.Event

	// Owned by the delivery goroutine.
	buf       []string
	consFails int
}

// NewMessenger constructs a messenger for the given destination chat. With
// debug on, every event passes through immediately, photos included.
func NewMessenger(transport domain.ChatTransport, chatID int64, debug bool) *Messenger {
	return &Messenger{
		transport: transport,
		chatID:    chatID,
		debug:     debug,
		queue:     make(chan domain.Event, 256),
	}
}

// Notify enqueues one event for delivery. It never blocks: when the queue
// is full the event is dropped with a log line.
func (m *Messenger) Notify(_ domain.Context, ev domain.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case m.queue <- ev:
	default:
		slog.Warn("messenger queue full, event dropped",
			slog.String("kind", string(ev.Kind)), slog.String("alias", ev.Alias))
		observability.MessengerDroppedTotal.Inc()
	}
}

// Run delivers events until ctx is cancelled, then flushes the remaining
// batch. Call it on its own goroutine.
func (m *Messenger) Run(ctx context.Context) {
	tick := time.NewTicker(domain.BatchFlushInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drain()
			m.flush(context.WithoutCancel(ctx))
			return
		case ev := <-m.queue:
			m.dispatch(ctx, ev)
		case <-tick.C:
			m.flush(ctx)
		}
	}
}

// drain empties the queue into the batch buffer during shutdown.
func (m *Messenger) drain() {
	for {
		select {
		case ev := <-m.queue:
			m.buf = append(m.buf, renderLine(ev))
		default:
			return
		}
	}
}

func (m *Messenger) dispatch(ctx context.Context, ev domain.Event) {
	if m.debug || ev.Kind.Critical() {
		m.deliver(ctx, ev)
		return
	}
	m.buf = append(m.buf, renderLine(ev))
}

// deliver sends one event immediately, photos included.
func (m *Messenger) deliver(ctx context.Context, ev domain.Event) {
	if !m.sendText(ctx, renderLine(ev)) {
		return
	}
	for _, png := range ev.Photos {
		caption := textx.Clip(fmt.Sprintf("[%s] %s", ev.Alias, ev.Kind), 1024)
		if err := m.transport.SendPhoto(ctx, m.chatID, caption, png); err != nil {
			slog.Warn("messenger photo send failed",
				slog.String("alias", ev.Alias), slog.String("error", err.Error()))
		}
	}
}

// flush sends the aggregated batch as a single message.
func (m *Messenger) flush(ctx context.Context) {
	if len(m.buf) == 0 {
		return
	}
	text := fmt.Sprintf("Autobot updates (%d):", len(m.buf))
	for _, line := range m.buf {
		text += "\n" + line
	}
	m.buf = m.buf[:0]
	m.sendText(ctx, text)
}

// sendText pushes one message through the transport with the send retry
// budget. After SendDropAfter consecutive failures each message gets one
// probe attempt instead of the full budget; a probe that lands resets the
// counter and reopens normal delivery.
func (m *Messenger) sendText(ctx context.Context, text string) bool {
	text = textx.Clip(textx.SanitizeText(text), chatTextLimit)
	op := func() error { return m.transport.SendMessage(ctx, m.chatID, text) }

	var err error
	if m.consFails >= domain.SendDropAfter {
		if err = op(); err != nil {
			m.consFails++
			observability.MessengerDroppedTotal.Inc()
			slog.Warn("messenger dropping message after sustained send failures",
				slog.Int("consecutive_failures", m.consFails))
			return false
		}
	} else {
		pol := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(domain.SendRetry.Delay), uint64(domain.SendRetry.MaxAttempts-1)),
			ctx,
		)
		if err = backoff.Retry(op, pol); err != nil {
			m.consFails++
			observability.MessengerSendsTotal.WithLabelValues("error").Inc()
			slog.Warn("messenger send failed", slog.String("error", err.Error()),
				slog.Int("consecutive_failures", m.consFails))
			return false
		}
	}
	m.consFails = 0
	observability.MessengerSendsTotal.WithLabelValues("ok").Inc()
	return true
}

func renderLine(ev domain.Event) string {
	if ev.Alias == "" {
		return ev.Text
	}
	return fmt.Sprintf("[%s] %s", ev.Alias, ev.Text)
}
