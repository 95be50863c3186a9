package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"smsrelay/internal/domain"
	"smsrelay/internal/ingest"
	"smsrelay/internal/worker"
)

type fakeIngester struct {
	err error
	got []domain.InboundSMS
}

func (f *fakeIngester) Handle(_ context.Context, source string, in domain.InboundSMS) error {
	if source != "webhook" {
		return errors.New("unexpected source " + source)
	}
	f.got = append(f.got, in)
	return f.err
}

type fakeQueue struct {
	entries  []domain.QueuedEntry
	clearErr error
	cleared  bool
}

func (f *fakeQueue) List(context.Context) []domain.QueuedEntry { return f.entries }
func (f *fakeQueue) Clear(context.Context) error {
	f.cleared = f.clearErr == nil
	return f.clearErr
}

type fakeDrainer struct {
	stats worker.DrainStats
	err   error
}

func (f fakeDrainer) Drain(context.Context, string) (worker.DrainStats, error) { return f.stats, f.err }

func newTestServer(in Ingester, secret string, q QueueStore, d Drainer, adminToken string) *Server {
	s := New()
	s.RegisterHealth(0)
	(&Webhook{Listener: in, Secret: secret}).Register(s.Mux)
	(&QueueAPI{Queue: q, Drainer: d, AdminToken: adminToken}).Register(s.Mux)
	return s
}

func do(s *Server, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Mux.ServeHTTP(rec, req)
	return rec
}

func TestInboundAccepted(t *testing.T) {
	in := &fakeIngester{}
	s := newTestServer(in, "", &fakeQueue{}, fakeDrainer{}, "")

	rec := do(s, http.MethodPost, "/v1/sms/inbound", []byte(`{"originatingAddress":"+15550100","body":"hi","timestamp":5}`), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(in.got) != 1 || in.got[0] != (domain.InboundSMS{OriginatingAddress: "+15550100", Body: "hi", Timestamp: 5}) {
		t.Fatalf("unexpected event %+v", in.got)
	}
}

func TestInboundStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"bad json", nil, `{`, http.StatusBadRequest},
		{"not listening", ingest.ErrNotListening, `{}`, http.StatusServiceUnavailable},
		{"storage failure", domain.StorageError("write queue", errors.New("disk full")), `{}`, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&fakeIngester{err: tc.err}, "", &fakeQueue{}, fakeDrainer{}, "")
			if rec := do(s, http.MethodPost, "/v1/sms/inbound", []byte(tc.body), nil); rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestInboundBodyErrors(t *testing.T) {
	s := newTestServer(&fakeIngester{}, "", &fakeQueue{}, fakeDrainer{}, "")

	big := `{"body":"` + strings.Repeat("x", maxInboundBody) + `"}`
	if rec := do(s, http.MethodPost, "/v1/sms/inbound", []byte(big), nil); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/sms/inbound", iotest.ErrReader(errors.New("connection reset")))
	rec := httptest.NewRecorder()
	s.Mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a failed body read, got %d", rec.Code)
	}
}

func TestInboundSignature(t *testing.T) {
	in := &fakeIngester{}
	s := newTestServer(in, "s3cret", &fakeQueue{}, fakeDrainer{}, "")
	body := []byte(`{"originatingAddress":"+15550100","body":"hi"}`)

	if rec := do(s, http.MethodPost, "/v1/sms/inbound", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", rec.Code)
	}
	if rec := do(s, http.MethodPost, "/v1/sms/inbound", body, map[string]string{SignatureHeader: Sign("wrong", body)}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad signature, got %d", rec.Code)
	}
	if rec := do(s, http.MethodPost, "/v1/sms/inbound", body, map[string]string{SignatureHeader: Sign("s3cret", body)}); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with valid signature, got %d", rec.Code)
	}
	if len(in.got) != 1 {
		t.Fatalf("expected only the signed request handled, got %d", len(in.got))
	}
}

func TestQueueEndpoints(t *testing.T) {
	q := &fakeQueue{entries: []domain.QueuedEntry{{ID: "a_1", RetryCount: 1}}}
	d := fakeDrainer{stats: worker.DrainStats{Attempted: 1, Delivered: 1}}
	s := newTestServer(&fakeIngester{}, "", q, d, "admin")
	auth := map[string]string{"Authorization": "Bearer admin"}

	if rec := do(s, http.MethodGet, "/v1/queue", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin token, got %d", rec.Code)
	}

	rec := do(s, http.MethodGet, "/v1/queue", nil, auth)
	var list queueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("list: code=%d err=%v", rec.Code, err)
	}
	if list.Size != 1 || list.Entries[0].ID != "a_1" {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = do(s, http.MethodPost, "/v1/queue/drain", nil, auth)
	var stats worker.DrainStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil || stats.Delivered != 1 {
		t.Fatalf("drain: code=%d stats=%+v err=%v", rec.Code, stats, err)
	}

	if rec := do(s, http.MethodDelete, "/v1/queue", nil, auth); rec.Code != http.StatusNoContent || !q.cleared {
		t.Fatalf("clear: code=%d cleared=%v", rec.Code, q.cleared)
	}
}

func TestQueueDrainFailure(t *testing.T) {
	s := newTestServer(&fakeIngester{}, "", &fakeQueue{}, fakeDrainer{err: domain.ErrStorage}, "")
	if rec := do(s, http.MethodPost, "/v1/queue/drain", nil, nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(&fakeIngester{}, "", &fakeQueue{}, fakeDrainer{}, "")
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := do(s, http.MethodGet, path, nil, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	failing := New()
	failing.RegisterHealth(0, func(context.Context) error { return errors.New("store down") })
	if rec := do(failing, http.MethodGet, "/readyz", nil, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from failing readiness check, got %d", rec.Code)
	}
}
