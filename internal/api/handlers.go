// Package api provides the HTTP query API for racestats.
//
//	@title			racestats API
//	@version		1.0
//	@description	Rating history and car/track usage of synced iRacing drivers.
//	@BasePath		/api/v1
package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/darshan-rambhia/racestats/docs/swagger"
	"github.com/darshan-rambhia/racestats/internal/cache"
	"github.com/darshan-rambhia/racestats/internal/store"
	"github.com/darshan-rambhia/racestats/templates"
)

// maxConsecutiveFailures is how many failed runs in a row of one sync job
// make /healthz report degraded.
const maxConsecutiveFailures = 3

// Server is the HTTP server for racestats.
type Server struct {
	cache  *cache.Cache
	store  *store.Store
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a new HTTP server. rateLimit is the allowed requests
// per minute per client IP; 0 disables limiting.
func NewServer(addr string, c *cache.Cache, s *store.Store, rateLimit int) *Server {
	srv := &Server{
		cache: c,
		store: s,
		mux:   http.NewServeMux(),
	}

	srv.registerRoutes()

	srv.server = &http.Server{
		Addr:         addr,
		Handler:      SecurityHeadersMiddleware(RecoveryMiddleware(LoggingMiddleware(RateLimitMiddleware(rateLimit)(srv.mux)))),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return srv
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("HTTP server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /", s.handleIndex)

	// The query routes are served both at the root, where existing chart
	// frontends call them, and under the versioned prefix.
	for _, prefix := range []string{"", "/api/v1"} {
		s.mux.HandleFunc("GET "+prefix+"/irating-history", s.handleRatingHistory)
		s.mux.HandleFunc("GET "+prefix+"/car-track-usage-stats", s.handleCarTrackUsage)
		s.mux.HandleFunc("GET "+prefix+"/drivers", s.handleDrivers)
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}

// renderHTML renders a templ component to a buffer first, then writes the
// buffer to the response, so rendering errors can still become a 500.
func renderHTML(w http.ResponseWriter, r *http.Request, component templ.Component) {
	var buf bytes.Buffer
	if err := component.Render(r.Context(), &buf); err != nil {
		slog.Error("rendering component", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		slog.Debug("writing HTML response", "path", r.URL.Path, "error", err)
	}
}

// writeJSON marshals v into a buffer first, then writes it to the response,
// so marshalling errors can still become a 500.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding JSON response", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("writing JSON response", "path", r.URL.Path, "error", err)
	}
}

// driverName returns the driver_name query parameter. When it is missing the
// legacy plain-text 200 answer is written and ok is false.
func driverName(w http.ResponseWriter, r *http.Request) (name string, ok bool) {
	name = r.URL.Query().Get("driver_name")
	if name == "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Need driver_name")) //nolint:errcheck // client gone
		return "", false
	}
	return name, true
}

// @Summary Index page
// @Description HTML page listing synced drivers and recent sync runs
// @Produce html
// @Success 200 {string} string "HTML page"
// @Router / [get]
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	drivers, err := s.store.Drivers(r.Context())
	if err != nil {
		slog.Error("listing drivers", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	renderHTML(w, r, templates.Index(drivers, s.cache.Snapshot()))
}

// @Summary Rating history
// @Description Road rating after each rated race of a driver, oldest first
// @Produce json
// @Param driver_name query string true "Driver display name"
// @Success 200 {array} model.RatingPoint
// @Failure 500 {string} string "Internal Server Error"
// @Router /irating-history [get]
func (s *Server) handleRatingHistory(w http.ResponseWriter, r *http.Request) {
	name, ok := driverName(w, r)
	if !ok {
		return
	}
	points, err := s.store.RatingHistory(r.Context(), name)
	if err != nil {
		slog.Error("querying rating history", "driver_name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, points)
}

// @Summary Car/track usage
// @Description Total driven time of a driver per car and track as a matrix indexed [track][car]; null cells were never driven
// @Produce json
// @Param driver_name query string true "Driver display name"
// @Success 200 {object} model.UsageMatrix
// @Failure 500 {string} string "Internal Server Error"
// @Router /car-track-usage-stats [get]
func (s *Server) handleCarTrackUsage(w http.ResponseWriter, r *http.Request) {
	name, ok := driverName(w, r)
	if !ok {
		return
	}
	rows, err := s.store.CarTrackUsage(r.Context(), name)
	if err != nil {
		slog.Error("querying car/track usage", "driver_name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, BuildUsageMatrix(rows))
}

// @Summary Known drivers
// @Description All drivers seen in stored results, ordered by name
// @Produce json
// @Success 200 {array} model.Driver
// @Failure 500 {string} string "Internal Server Error"
// @Router /drivers [get]
func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := s.store.Drivers(r.Context())
	if err != nil {
		slog.Error("listing drivers", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, drivers)
}

// @Summary Health check
// @Description Service health and time since the last successful run of each sync job
// @Produce json
// @Success 200 {object} map[string]interface{} "Health status"
// @Failure 503 {object} map[string]interface{} "A sync job keeps failing"
// @Router /healthz [get]
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Snapshot()

	status, code := "ok", http.StatusOK
	switch {
	case !snap.Healthy(maxConsecutiveFailures):
		status, code = "degraded", http.StatusServiceUnavailable
	case len(snap.LastPoll) == 0:
		status = "no_data"
	}

	jobs := make(map[string]string, len(snap.LastPoll))
	for k, v := range snap.LastPoll {
		jobs[k] = fmt.Sprintf("%ds ago", int(time.Since(v).Seconds()))
	}
	writeJSON(w, r, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"jobs":      jobs,
		"failures":  snap.Failures,
	})
}
