package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type HealthServer struct {
	monitor *Monitor
	port    string
	logger  *zap.Logger
	server  *http.Server
}

func NewHealthServer(monitor *Monitor, port string, logger *zap.Logger) *HealthServer {
	if port == "" || port == "0" {
		port = "8080"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthServer{
		monitor: monitor,
		port:    port,
		logger:  logger,
	}
}

// Routes mounts /health and /status on r
func (h *HealthServer) Routes(r chi.Router) {
	r.Get("/health", h.healthHandler)
	r.Get("/status", h.statusHandler)
}

// Start serves the endpoints on their own port until ctx is cancelled
func (h *HealthServer) Start(ctx context.Context) {
	r := chi.NewRouter()
	h.Routes(r)
	h.server = &http.Server{
		Addr:              ":" + h.port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	h.logger.Info("health check server starting", zap.String("port", h.port))
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.server.Shutdown(shutdownCtx)
	}()
}

func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if h.monitor.IsHealthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK - %s", h.monitor.GetStatusSummary())
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "Service unhealthy - %s", h.monitor.GetStatusSummary())
	}
}

func (h *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	successes, failures := h.monitor.Counts()
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s\nsuccessful runs: %d\nfailed runs: %d\n", h.monitor.GetStatusSummary(), successes, failures)
}
