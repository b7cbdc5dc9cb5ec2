package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/incidentstack/sleuth-rca/internal/config"
)

// Server runs the investigation API plus a separate metrics listener, and
// shuts both down gracefully when the context is cancelled.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	registry *prometheus.Registry
	logger   *slog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(cfg config.ServerConfig, handlers *Handlers, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, handlers: handlers, registry: registry, logger: logger}
}

// Run blocks until ctx is cancelled or a listener fails.
func (s *Server) Run(ctx context.Context) error {
	apiSrv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.handlers.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var metricsSrv *http.Server
	if s.registry != nil && s.cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              s.cfg.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("api listening", "address", s.cfg.Address)
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if metricsSrv != nil {
		go func() {
			s.logger.Info("metrics listening", "address", s.cfg.MetricsAddress)
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulTimeout)
	defer cancel()

	err := apiSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		if merr := metricsSrv.Shutdown(shutdownCtx); err == nil {
			err = merr
		}
	}
	return err
}
