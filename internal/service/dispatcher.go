package service

import (
	"context"
	"fmt"
	"log/slog"

	"smsrelay/internal/domain"
	"smsrelay/internal/observability"
)

type Queue interface {
	Append(ctx context.Context, m domain.Message) (domain.QueuedEntry, error)
}

type Sender interface {
	Send(ctx context.Context, m domain.Message) domain.DeliveryResult
}

type Prober interface {
	Check(ctx context.Context) bool
}

// Dispatcher delivers freshly ingested messages, falling back to the durable
// queue whenever direct delivery is skipped or fails.
type Dispatcher struct {
	Queue  Queue
	Sender Sender
	Prober Prober
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeOffline
	outcomeFailed
)

// Dispatch either delivers m or appends it to the queue. The only error it
// returns is a storage error from that append, in which case m is lost.
func (d *Dispatcher) Dispatch(ctx context.Context, m domain.Message) error {
	out, err := d.attempt(ctx, m)
	switch {
	case err != nil:
		slog.Error("dispatch failed unexpectedly, queuing", "message_id", m.MessageID, "err", err)
		observability.Dispatches.WithLabelValues("error").Inc()
	case out == outcomeDelivered:
		observability.Dispatches.WithLabelValues("delivered").Inc()
		return nil
	case out == outcomeOffline:
		slog.Info("network offline, queuing sms", "message_id", m.MessageID)
		observability.Dispatches.WithLabelValues("offline").Inc()
	default:
		observability.Dispatches.WithLabelValues("failed").Inc()
	}

	// The caller going away must not cost us the message.
	if _, qerr := d.Queue.Append(context.WithoutCancel(ctx), m); qerr != nil {
		slog.Error("sms lost: enqueue after failed dispatch failed",
			"message_id", m.MessageID,
			"phone_number", m.PhoneNumber,
			"err", qerr,
		)
		observability.Dispatches.WithLabelValues("lost").Inc()
		return qerr
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, m domain.Message) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()

	if d.Prober == nil || !d.Prober.Check(ctx) {
		return outcomeOffline, nil
	}

	res := d.Sender.Send(ctx, m)
	if res.Success {
		slog.Info("sms delivered", "message_id", m.MessageID, "remote_message_id", res.MessageID)
		return outcomeDelivered, nil
	}
	slog.Warn("sms delivery failed, queuing", "message_id", m.MessageID, "reason", res.Error)
	return outcomeFailed, nil
}
