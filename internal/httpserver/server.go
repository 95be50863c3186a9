package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smsrelay/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with /metrics mounted and the logging and metrics
// middleware installed.
func New() *Server {
	r := mux.NewRouter()
	r.Use(Logging, Metrics(observability.APIRequests))
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return &Server{Mux: r}
}
