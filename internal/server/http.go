package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sbneo2022/gmx-synthetics/internal/observability"
	"github.com/sbneo2022/gmx-synthetics/internal/query"
)

// HTTPServer serves metrics, health probes, and the read-only query API.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

func NewHTTPServer(addr string, checker *observability.HealthChecker, queries *query.Service, log zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", checker.LivenessHandler)
	mux.HandleFunc("/readyz", checker.ReadinessHandler)

	if queries != nil {
		api := &queryAPI{queries: queries, log: log}
		mux.HandleFunc("/v1/positions", api.listPositions)
		mux.HandleFunc("/v1/events", api.listEvents)
		mux.HandleFunc("/v1/markets", api.listMarkets)
		mux.HandleFunc("/v1/status", api.status)
	}

	return &HTTPServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		log: log,
	}
}

// Serve blocks until the context is cancelled.
func (s *HTTPServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type queryAPI struct {
	queries *query.Service
	log     zerolog.Logger
}

func (a *queryAPI) listPositions(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		httpError(w, http.StatusBadRequest, "account is required")
		return
	}
	positions, err := a.queries.ListPositions(r.Context(), account)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"positions": positions})
}

func (a *queryAPI) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, _ := strconv.ParseInt(q.Get("after_sequence"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))

	events, err := a.queries.ListEvents(r.Context(), q.Get("market"), after, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"events": events})
}

func (a *queryAPI) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := a.queries.ListMarkets(r.Context())
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"markets": markets})
}

func (a *queryAPI) status(w http.ResponseWriter, r *http.Request) {
	st, err := a.queries.Status(r.Context())
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	writeJSON(w, st)
}

func (a *queryAPI) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.log.Error().Err(err).Str("path", r.URL.Path).Msg("query failed")
	httpError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
