package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"smsrelay/internal/domain"
	"smsrelay/internal/observability"
	"smsrelay/internal/util"
)

// Queue is the durable FIFO of undelivered messages. The whole queue lives
// JSON-encoded in one slot; every operation reads, mutates and rewrites it
// under q.mu, so concurrent callers in this process never lose an update.
type Queue struct {
	Slot Slot
	Key  string
	Now  func() int64

	mu sync.Mutex
}

func NewQueue(slot Slot, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{Slot: slot, Key: key, Now: util.NowMillis}
}

// Append stores m at the tail of the queue and returns the new entry.
func (q *Queue) Append(ctx context.Context, m domain.Message) (domain.QueuedEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil && !errors.Is(err, errCorrupt) {
		observability.QueueOps.WithLabelValues("append", "error").Inc()
		return domain.QueuedEntry{}, domain.StorageError("read queue", err)
	}
	if errors.Is(err, errCorrupt) {
		slog.Warn("queue blob unreadable, starting a new queue", "key", q.Key, "err", err)
	}

	entry := domain.NewQueuedEntry(m, q.Now())
	entry.ID = uniqueID(entries, entry.ID)
	entries = append(entries, entry)

	if err := q.save(ctx, entries); err != nil {
		observability.QueueOps.WithLabelValues("append", "error").Inc()
		return domain.QueuedEntry{}, domain.StorageError("write queue", err)
	}
	observability.QueueOps.WithLabelValues("append", "ok").Inc()
	slog.Info("sms queued", "id", entry.ID, "message_id", m.MessageID)
	return entry, nil
}

// List returns the queue in insertion order. It never fails: a missing,
// unreadable or corrupt queue reads as empty.
func (q *Queue) List(ctx context.Context) []domain.QueuedEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		slog.Warn("queue read failed, treating as empty", "key", q.Key, "err", err)
		return []domain.QueuedEntry{}
	}
	return entries
}

// Size is len(List(ctx)).
func (q *Queue) Size(ctx context.Context) int {
	return len(q.List(ctx))
}

// RemoveByID deletes the entry with the given id. Removing an id that is not
// queued is a successful no-op.
func (q *Queue) RemoveByID(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		observability.QueueOps.WithLabelValues("remove", "error").Inc()
		return domain.StorageError("read queue", err)
	}

	kept, removed := without(entries, id)
	if !removed {
		return nil
	}
	if err := q.save(ctx, kept); err != nil {
		observability.QueueOps.WithLabelValues("remove", "error").Inc()
		return domain.StorageError("write queue", err)
	}
	observability.QueueOps.WithLabelValues("remove", "ok").Inc()
	slog.Info("sms removed from queue", "id", id)
	return nil
}

// IncrementRetry records one more failed attempt for id. It returns
// found=false when the id is not queued, or when the entry already carries
// domain.MaxRetry failed retries, in which case it is evicted instead.
func (q *Queue) IncrementRetry(ctx context.Context, id string) (domain.QueuedEntry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		observability.QueueOps.WithLabelValues("retry", "error").Inc()
		return domain.QueuedEntry{}, false, domain.StorageError("read queue", err)
	}

	idx := indexOf(entries, id)
	if idx < 0 {
		return domain.QueuedEntry{}, false, nil
	}

	if entries[idx].RetryCount >= domain.MaxRetry {
		kept, _ := without(entries, id)
		if err := q.save(ctx, kept); err != nil {
			observability.QueueOps.WithLabelValues("evict", "error").Inc()
			return domain.QueuedEntry{}, false, domain.StorageError("write queue", err)
		}
		observability.QueueOps.WithLabelValues("evict", "ok").Inc()
		observability.Evictions.Inc()
		slog.Warn("sms evicted after max retries",
			"id", id,
			"message_id", entries[idx].MessageID,
			"max_retry", domain.MaxRetry,
			"err", domain.ErrRetryExhausted,
		)
		return domain.QueuedEntry{}, false, nil
	}

	entries[idx].RetryCount++
	if err := q.save(ctx, entries); err != nil {
		observability.QueueOps.WithLabelValues("retry", "error").Inc()
		return domain.QueuedEntry{}, false, domain.StorageError("write queue", err)
	}
	observability.QueueOps.WithLabelValues("retry", "ok").Inc()
	return entries[idx], true, nil
}

// Clear drops every queued entry.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.Slot.Delete(ctx, q.Key); err != nil {
		observability.QueueOps.WithLabelValues("clear", "error").Inc()
		return domain.StorageError("clear queue", err)
	}
	observability.QueueOps.WithLabelValues("clear", "ok").Inc()
	observability.QueueDepth.Set(0)
	slog.Info("sms queue cleared", "key", q.Key)
	return nil
}

var errCorrupt = errors.New("corrupt queue blob")

func (q *Queue) load(ctx context.Context) ([]domain.QueuedEntry, error) {
	raw, found, err := q.Slot.Get(ctx, q.Key)
	if err != nil {
		return []domain.QueuedEntry{}, err
	}
	if !found || raw == "" {
		return []domain.QueuedEntry{}, nil
	}
	var entries []domain.QueuedEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return []domain.QueuedEntry{}, errors.Join(errCorrupt, err)
	}
	if entries == nil {
		entries = []domain.QueuedEntry{}
	}
	return entries, nil
}

func (q *Queue) save(ctx context.Context, entries []domain.QueuedEntry) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := q.Slot.Set(ctx, q.Key, string(b)); err != nil {
		return err
	}
	observability.QueueDepth.Set(float64(len(entries)))
	return nil
}

func indexOf(entries []domain.QueuedEntry, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}

func without(entries []domain.QueuedEntry, id string) ([]domain.QueuedEntry, bool) {
	out := make([]domain.QueuedEntry, 0, len(entries))
	removed := false
	for _, e := range entries {
		if e.ID == id {
			removed = true
			continue
		}
		out = append(out, e)
	}
	return out, removed
}

// uniqueID suffixes id with -2, -3, ... while it collides with a queued entry.
func uniqueID(entries []domain.QueuedEntry, id string) string {
	if indexOf(entries, id) < 0 {
		return id
	}
	for n := 2; ; n++ {
		candidate := id + "-" + strconv.Itoa(n)
		if indexOf(entries, candidate) < 0 {
			return candidate
		}
	}
}
