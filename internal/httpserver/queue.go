package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"smsrelay/internal/domain"
	"smsrelay/internal/worker"
)

type QueueStore interface {
	List(ctx context.Context) []domain.QueuedEntry
	Clear(ctx context.Context) error
}

type Drainer interface {
	Drain(ctx context.Context, trigger string) (worker.DrainStats, error)
}

// QueueAPI exposes the durable queue to operators.
type QueueAPI struct {
	Queue   QueueStore
	Drainer Drainer
	// AdminToken guards every route when set.
	AdminToken string
}

type queueResponse struct {
	Size    int                  `json:"size"`
	Entries []domain.QueuedEntry `json:"entries"`
}

func (a *QueueAPI) Register(r *mux.Router) {
	sub := r.PathPrefix("/v1/queue").Subrouter()
	sub.Use(RequireBearer(a.AdminToken))
	sub.HandleFunc("", a.handleList).Methods(http.MethodGet)
	sub.HandleFunc("", a.handleClear).Methods(http.MethodDelete)
	sub.HandleFunc("/drain", a.handleDrain).Methods(http.MethodPost)
}

func (a *QueueAPI) handleList(w http.ResponseWriter, r *http.Request) {
	entries := a.Queue.List(r.Context())
	writeJSON(w, http.StatusOK, queueResponse{Size: len(entries), Entries: entries})
}

func (a *QueueAPI) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := a.Queue.Clear(r.Context()); err != nil {
		slog.Error("clear queue failed", "err", err)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *QueueAPI) handleDrain(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Drainer.Drain(r.Context(), "manual")
	if err != nil {
		slog.Error("manual drain failed", "err", err)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
