package smsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"smsrelay/internal/auth"
	"smsrelay/internal/domain"
	"smsrelay/internal/observability"
)

const (
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultProbeTimeout    = 3 * time.Second
)

// Client talks to the SMS ingestion API.
type Client struct {
	Endpoint  string
	HealthURL string
	HTTP      *http.Client
	Auth      auth.Provider
	Limiter   *rate.Limiter
	Breaker   *gobreaker.CircuitBreaker

	DeliveryTimeout time.Duration
	ProbeTimeout    time.Duration
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	MessageID   string `json:"messageId"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

// HealthURLFor maps ".../api/sms" to ".../health". Endpoints without that
// suffix are probed as-is.
func HealthURLFor(endpoint string) string {
	return strings.Replace(endpoint, "/api/sms", "/health", 1)
}

// NewBreaker trips after consecutive failures that indicate the API side is
// unhealthy. 4xx answers other than 429 do not count.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		IsSuccessful: func(err error) bool {
			var apiErr *domain.APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
			}
			return err == nil
		},
	})
}

// Send posts one message. It never returns a Go error: every failure,
// including timeouts and an open breaker, is reported as a failed result.
func (c *Client) Send(ctx context.Context, m domain.Message) domain.DeliveryResult {
	start := time.Now()

	if c.Limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, c.deliveryTimeout())
		err := c.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			observability.DeliverySend.WithLabelValues("rate_limited_local", "0").Inc()
			return failed(m, domain.NetworkError(err))
		}
	}

	body, err := json.Marshal(sendRequest{
		PhoneNumber: m.PhoneNumber,
		Message:     m.Message,
		Timestamp:   m.Timestamp,
		MessageID:   m.MessageID,
	})
	if err != nil {
		return failed(m, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.deliveryTimeout())
	defer cancel()

	call := func() (any, error) {
		status, raw, err := c.do(reqCtx, http.MethodPost, c.Endpoint, body)
		if err != nil {
			return nil, domain.NetworkError(err)
		}
		if status < 200 || status >= 300 {
			return nil, &domain.APIError{StatusCode: status, Reason: reason(status, raw)}
		}
		return raw, nil
	}

	var res any
	if c.Breaker != nil {
		res, err = c.Breaker.Execute(call)
	} else {
		res, err = call()
	}
	observability.DeliveryLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.DeliverySend.WithLabelValues("cb_open", "0").Inc()
		return failed(m, domain.NetworkError(err))
	}
	if err != nil {
		status := 0
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		observability.DeliverySend.WithLabelValues("error", strconv.Itoa(status)).Inc()
		return failed(m, err)
	}

	observability.DeliverySend.WithLabelValues("ok", "2xx").Inc()
	var sr sendResponse
	_ = json.Unmarshal(res.([]byte), &sr)
	id := sr.MessageID
	if id == "" {
		id = m.MessageID
	}
	return domain.DeliveryResult{Success: true, MessageID: id}
}

// Probe reports whether the API answered at all within the probe timeout.
// Any HTTP status counts as reachable; transport errors do not.
func (c *Client) Probe(ctx context.Context) bool {
	timeout := c.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.HealthURL
	if url == "" {
		url = HealthURLFor(c.Endpoint)
	}
	if _, _, err := c.do(ctx, http.MethodGet, url, nil); err != nil {
		slog.Debug("api probe failed", "url", url, "err", err)
		return false
	}
	return true
}

// do sends one request with the current bearer token. A 401 triggers a single
// token refresh and a single replay of the same request.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	token := ""
	if c.Auth != nil {
		t, err := c.Auth.Token(ctx)
		if err != nil || t == "" {
			slog.Warn("auth token unavailable, sending without credentials", "err", err)
		}
		token = t
	}

	status, raw, err := c.once(ctx, method, url, body, token)
	if err != nil || status != http.StatusUnauthorized || c.Auth == nil {
		return status, raw, err
	}

	fresh, rerr := c.Auth.Refresh(ctx)
	if rerr != nil || fresh == "" {
		slog.Error("auth refresh failed", "url", url, "err", rerr)
		return status, raw, nil
	}
	return c.once(ctx, method, url, body, fresh)
}

func (c *Client) once(ctx context.Context, method, url string, body []byte, token string) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) deliveryTimeout() time.Duration {
	if c.DeliveryTimeout > 0 {
		return c.DeliveryTimeout
	}
	return DefaultDeliveryTimeout
}

func reason(status int, raw []byte) string {
	var sr sendResponse
	if json.Unmarshal(raw, &sr) == nil && sr.Message != "" {
		return sr.Message
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected status " + strconv.Itoa(status)
}

func failed(m domain.Message, err error) domain.DeliveryResult {
	return domain.DeliveryResult{Success: false, MessageID: m.MessageID, Error: err.Error(), Err: err}
}
