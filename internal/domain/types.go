package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// MaxRetry is the highest retryCount a queued entry can carry. A failure
// recorded against an entry already at MaxRetry evicts it.
const MaxRetry = 3

// Message is one ingested SMS. It is never mutated after creation.
type Message struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	MessageID   string `json:"messageId"`
}

// QueuedEntry is a Message waiting in the durable queue.
type QueuedEntry struct {
	Message
	ID         string `json:"id"`
	RetryCount int    `json:"retryCount"`
	CreatedAt  int64  `json:"createdAt"`
}

// NewQueuedEntry builds a fresh entry for m enqueued at nowMillis.
func NewQueuedEntry(m Message, nowMillis int64) QueuedEntry {
	return QueuedEntry{
		Message:    m,
		ID:         m.MessageID + "_" + strconv.FormatInt(nowMillis, 10),
		RetryCount: 0,
		CreatedAt:  nowMillis,
	}
}

type DeliveryResult struct {
	Success   bool
	MessageID string
	Error     string
	Err       error
}

// InboundSMS is the raw event handed over by an ingestion source.
type InboundSMS struct {
	OriginatingAddress string `json:"originatingAddress"`
	Body               string `json:"body"`
	Timestamp          int64  `json:"timestamp"`
}

var (
	ErrStorage        = errors.New("storage error")
	ErrNetwork        = errors.New("network error")
	ErrAPI            = errors.New("api error")
	ErrPermission     = errors.New("permission error")
	ErrRetryExhausted = errors.New("retry exhausted")
)

// StorageError wraps a persistence failure so errors.Is(err, ErrStorage) holds.
func StorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// NetworkError wraps a transport failure (no response, timeout).
func NetworkError(err error) error {
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// APIError is returned when the delivery API answered with a non-2xx status.
type APIError struct {
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Reason)
}

func (e *APIError) Unwrap() error { return ErrAPI }
