package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"smsrelay/internal/domain"
	"smsrelay/internal/ingest"
)

const (
	SignatureHeader = "X-Relay-Signature"
	maxInboundBody  = 64 << 10
)

type Ingester interface {
	Handle(ctx context.Context, source string, in domain.InboundSMS) error
}

// Webhook accepts inbound SMS events pushed over HTTP.
type Webhook struct {
	Listener Ingester
	// Secret enables HMAC-SHA256 verification of the raw body when set.
	Secret string
}

func (w *Webhook) Register(r *mux.Router) {
	r.HandleFunc("/v1/sms/inbound", w.handleInbound).Methods(http.MethodPost)
}

func (w *Webhook) handleInbound(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxInboundBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(rw, ErrBodyTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(rw, ErrReadBody, http.StatusBadRequest)
		return
	}
	if w.Secret != "" && !VerifySignature(w.Secret, body, r.Header.Get(SignatureHeader)) {
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	var in domain.InboundSMS
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(rw, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	err = w.Listener.Handle(r.Context(), "webhook", in)
	switch {
	case errors.Is(err, ingest.ErrNotListening):
		http.Error(rw, ErrNotListening, http.StatusServiceUnavailable)
		return
	case err != nil:
		slog.Error("inbound sms not stored", "err", err, "originating_address", in.OriginatingAddress)
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	}
	writeJSON(rw, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Sign returns the hex HMAC-SHA256 of body under secret, prefixed "sha256=".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret string, body []byte, provided string) bool {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(provided))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
