package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"smsrelay/internal/domain"
	"smsrelay/internal/observability"
)

type Queue interface {
	List(ctx context.Context) []domain.QueuedEntry
	RemoveByID(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string) (domain.QueuedEntry, bool, error)
}

type Sender interface {
	Send(ctx context.Context, m domain.Message) domain.DeliveryResult
}

type Prober interface {
	Check(ctx context.Context) bool
}

// DrainStats summarizes one pass. Evicted counts entries dropped at the retry
// ceiling; Missing counts failed entries that were already gone from the
// queue when the failure was recorded.
type DrainStats struct {
	Offline   bool `json:"offline"`
	Attempted int  `json:"attempted"`
	Delivered int  `json:"delivered"`
	Retried   int  `json:"retried"`
	Evicted   int  `json:"evicted"`
	Missing   int  `json:"missing"`
}

// Drainer retries queued messages.
type Drainer struct {
	Queue  Queue
	Sender Sender
	Prober Prober

	group singleflight.Group
}

// Drain makes one pass over a snapshot of the queue in FIFO order. A drain
// requested while another is running joins that one instead of starting a
// second pass. Delivery failures never produce an error; only storage
// failures while updating entries do, after the whole snapshot was visited.
// Once started, a pass runs to completion even if ctx is cancelled; each
// delivery stays bounded by the client's own timeout.
func (d *Drainer) Drain(ctx context.Context, trigger string) (DrainStats, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, shared := d.group.Do("drain", func() (any, error) {
		return d.drain(ctx)
	})
	stats, _ := v.(DrainStats)

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case shared:
		result = "joined"
	case stats.Offline:
		result = "offline"
	}
	observability.Drains.WithLabelValues(trigger, result).Inc()
	return stats, err
}

func (d *Drainer) drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats

	if d.Prober == nil || !d.Prober.Check(ctx) {
		slog.Info("network offline, skipping queue processing")
		stats.Offline = true
		return stats, nil
	}

	entries := d.Queue.List(ctx)
	if len(entries) == 0 {
		slog.Debug("no queued sms to process")
		return stats, nil
	}
	slog.Info("processing queued sms", "count", len(entries))

	var errs []error
	for _, e := range entries {
		stats.Attempted++

		if d.send(ctx, e) {
			if err := d.Queue.RemoveByID(ctx, e.ID); err != nil {
				slog.Error("remove delivered sms failed", "id", e.ID, "err", err)
				errs = append(errs, err)
				continue
			}
			stats.Delivered++
			slog.Info("queued sms sent", "id", e.ID)
			continue
		}

		updated, found, err := d.Queue.IncrementRetry(ctx, e.ID)
		if err != nil {
			slog.Error("increment retry failed", "id", e.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		if !found {
			if e.RetryCount >= domain.MaxRetry {
				stats.Evicted++
			} else {
				stats.Missing++
				slog.Info("failed sms no longer queued", "id", e.ID)
			}
			continue
		}
		stats.Retried++
		slog.Info("queued sms failed",
			"id", e.ID,
			"retry_count", updated.RetryCount,
			"max_retry", domain.MaxRetry,
		)
	}

	slog.Info("queue drain finished",
		"attempted", stats.Attempted,
		"delivered", stats.Delivered,
		"retried", stats.Retried,
		"evicted", stats.Evicted,
		"missing", stats.Missing,
	)
	return stats, errors.Join(errs...)
}

func (d *Drainer) send(ctx context.Context, e domain.QueuedEntry) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("queued sms send panic recovered", "id", e.ID, "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	res := d.Sender.Send(ctx, e.Message)
	if !res.Success {
		slog.Warn("queued sms delivery failed", "id", e.ID, "reason", res.Error)
	}
	return res.Success
}

// Kick starts a drain in the background. Failures are logged and counted;
// the caller never waits.
func (d *Drainer) Kick(trigger string) {
	go func() {
		if _, err := d.Drain(context.Background(), trigger); err != nil {
			slog.Error("background queue drain failed", "trigger", trigger, "err", err)
		}
	}()
}

// OnReachable is a reachability subscriber: it drains when connectivity
// comes back.
func (d *Drainer) OnReachable(online bool) {
	if online {
		d.Kick("connectivity")
	}
}
