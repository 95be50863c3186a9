package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"smsrelay/internal/domain"
	"smsrelay/internal/observability"
	"smsrelay/internal/util"
)

// ErrNotListening is returned by Handle while the listener is stopped.
var ErrNotListening = errors.New("sms listener not running")

type Dispatcher interface {
	Dispatch(ctx context.Context, m domain.Message) error
}

type Kicker interface {
	Kick(trigger string)
}

// Listener is the process's SMS capture lifecycle. Sources hand raw events to
// Handle; nothing is accepted unless the listener was started.
type Listener struct {
	Dispatcher  Dispatcher
	Drainer     Kicker
	Permissions Permissions
	Now         func() time.Time

	mu        sync.Mutex
	listening bool
}

func NewListener(d Dispatcher, k Kicker, p Permissions) *Listener {
	return &Listener{Dispatcher: d, Drainer: k, Permissions: p, Now: util.NowUTC}
}

// Start begins accepting messages and kicks a background drain of whatever
// was queued before. It returns false, without error, when a required grant
// is missing. Starting a running listener is a no-op that returns true.
func (l *Listener) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listening {
		slog.Info("sms listener already running")
		return true
	}
	if missing := Missing(l.Permissions); len(missing) > 0 {
		slog.Error("sms listener unavailable", "err", &PermissionError{Missing: missing})
		return false
	}

	l.listening = true
	slog.Info("sms listener started")

	if l.Drainer != nil {
		l.Drainer.Kick("listener_start")
	}
	return true
}

// Stop reports whether the listener was running.
func (l *Listener) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.listening {
		return false
	}
	l.listening = false
	slog.Info("sms listener stopped")
	return true
}

func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

// Handle normalizes a raw inbound event and dispatches it. source labels the
// ingestion path in metrics. The returned error is either ErrNotListening or
// a storage error meaning the message could not be kept.
func (l *Listener) Handle(ctx context.Context, source string, in domain.InboundSMS) error {
	if !l.Listening() {
		observability.Ingested.WithLabelValues(source + "_rejected").Inc()
		return ErrNotListening
	}
	observability.Ingested.WithLabelValues(source).Inc()

	m := l.Normalize(in)
	slog.Info("sms received", "source", source, "message_id", m.MessageID, "phone_number", m.PhoneNumber)
	return l.Dispatcher.Dispatch(ctx, m)
}

// Normalize turns an inbound event into a Message with a fresh id. A missing
// sender becomes "unknown" and a missing timestamp becomes now.
func (l *Listener) Normalize(in domain.InboundSMS) domain.Message {
	now := l.now()
	ts := in.Timestamp
	if ts <= 0 {
		ts = now.UnixMilli()
	}
	return domain.Message{
		PhoneNumber: util.NormalizePhone(in.OriginatingAddress),
		Message:     in.Body,
		Timestamp:   ts,
		MessageID:   util.NewMessageID(ts),
	}
}

func (l *Listener) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return util.NowUTC()
}
