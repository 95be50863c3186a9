package main

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"

	"smsrelay/internal/httpserver"
	"smsrelay/internal/logging"
)

type config struct {
	Port        string  `envconfig:"PORT" default:"8081"`
	LogFormat   string  `envconfig:"LOG_FORMAT" default:"json"`
	Token       string  `envconfig:"MOCK_API_TOKEN"`
	OutcomeMode string  `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw string  `envconfig:"MOCK_OUTCOMES" default:"ok"`
	SuccessRate float64 `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	DelayMs     int     `envconfig:"MOCK_DELAY_MS" default:"0"`

	// Longer than the relay's delivery timeout so "timeout" outcomes trip it.
	TimeoutDelayMs int  `envconfig:"MOCK_TIMEOUT_DELAY_MS" default:"12000"`
	HealthDown     bool `envconfig:"MOCK_HEALTH_DOWN" default:"false"`

	Outcomes     []string
	Delay        time.Duration
	TimeoutDelay time.Duration
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	MessageID   string `json:"messageId"`
}

type sendResponse struct {
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
}

type server struct {
	cfg   config
	idx   uint64
	rng   *rand.Rand
	rngMu sync.Mutex
	// healthDown makes /health hang up without answering, which the relay
	// reads as unreachable.
	healthDown atomic.Bool
}

func main() {
	cfg := loadConfig()
	logging.Init("mock-api", cfg.LogFormat)

	s := newServer(cfg)

	srv := httpserver.New()
	s.register(srv.Mux)

	slog.Info("mock api listening", "port", cfg.Port, "mode", cfg.OutcomeMode, "outcomes", cfg.Outcomes)
	if err := http.ListenAndServe(":"+cfg.Port, srv.Mux); err != nil {
		slog.Error("mock api server failed", "err", err)
		os.Exit(1)
	}
}

func newServer(cfg config) *server {
	s := &server{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	s.healthDown.Store(cfg.HealthDown)
	return s
}

func (s *server) register(r *mux.Router) {
	r.HandleFunc("/api/sms", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/{state:up|down}", s.handleToggleHealth).Methods(http.MethodPost)
}

func loadConfig() config {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock api config load failed", "err", err)
		os.Exit(1)
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw)
	cfg.Delay = time.Duration(cfg.DelayMs) * time.Millisecond
	cfg.TimeoutDelay = time.Duration(cfg.TimeoutDelayMs) * time.Millisecond
	return cfg
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.checkBearer(r) {
		writeJSON(w, http.StatusUnauthorized, sendResponse{Message: "invalid token"})
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sendResponse{Message: "invalid json"})
		return
	}
	if req.PhoneNumber == "" || req.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, sendResponse{Message: "phoneNumber and messageId are required"})
		return
	}

	if s.cfg.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.cfg.Delay):
		}
	}

	status, reason := classifyOutcome(s.nextOutcome())
	if status == http.StatusGatewayTimeout {
		t := time.NewTimer(s.cfg.TimeoutDelay)
		defer t.Stop()
		select {
		case <-r.Context().Done():
			return
		case <-t.C:
		}
	}
	if status >= 300 {
		slog.Info("mock api rejecting sms", "message_id", req.MessageID, "status", status)
		writeJSON(w, status, sendResponse{Message: reason})
		return
	}

	id := uuid.NewString()
	slog.Info("mock api accepted sms", "message_id", req.MessageID, "remote_message_id", id, "phone_number", req.PhoneNumber)
	writeJSON(w, http.StatusCreated, sendResponse{MessageID: id})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthDown.Load() {
		if conn, _, err := http.NewResponseController(w).Hijack(); err == nil {
			_ = conn.Close()
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleToggleHealth(w http.ResponseWriter, r *http.Request) {
	s.healthDown.Store(mux.Vars(r)["state"] == "down")
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) checkBearer(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) == 1
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.AddUint64(&s.idx, 1) - 1
		return s.cfg.Outcomes[int(idx%uint64(len(s.cfg.Outcomes)))]
	case "weighted":
		s.rngMu.Lock()
		ok := s.rng.Float64() <= s.cfg.SuccessRate
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		if ok {
			return "ok"
		}
		if o := s.cfg.Outcomes[i]; o != "ok" {
			return o
		}
		return "server_error"
	case "random":
		s.rngMu.Lock()
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

func classifyOutcome(raw string) (status int, reason string) {
	switch kind := strings.TrimSpace(raw); kind {
	case "", "ok", "success":
		return http.StatusCreated, ""
	case "rate_limit", "429":
		return http.StatusTooManyRequests, "rate limited"
	case "bad_request", "400":
		return http.StatusBadRequest, "invalid phone number"
	case "unauthorized", "401":
		return http.StatusUnauthorized, "token expired"
	case "server_error", "500":
		return http.StatusInternalServerError, "server error"
	case "timeout":
		return http.StatusGatewayTimeout, "request timed out"
	default:
		if code, err := strconv.Atoi(kind); err == nil && code >= 100 && code <= 599 {
			return code, http.StatusText(code)
		}
		return http.StatusInternalServerError, "mock error: " + kind
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{"ok"}
	}
	return out
}
