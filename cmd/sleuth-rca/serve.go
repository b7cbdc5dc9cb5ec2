package main

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/incidentstack/sleuth-rca/internal/api"
	"github.com/incidentstack/sleuth-rca/internal/cache"
	"github.com/incidentstack/sleuth-rca/internal/engine"
	"github.com/incidentstack/sleuth-rca/internal/metrics"
	"github.com/incidentstack/sleuth-rca/internal/report"
	"github.com/incidentstack/sleuth-rca/internal/services"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the investigation API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector())
			registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			collector := metrics.NewCollector()
			if err := collector.Register(registry); err != nil {
				return err
			}

			var provider cache.Provider = cache.NewNoopProvider()
			if cfg.Cache.Enabled {
				mc := cache.NewMemoryCache(cfg.Cache.TTL)
				defer mc.Close()
				provider = mc
			}

			sink, err := report.NewFileSink(cfg.Report.Dir)
			if err != nil {
				return err
			}

			pipeline := engine.NewPipeline(cfg, nil, sink,
				services.MetricsObserver{Collector: collector}, logger)
			svc := services.NewInvestigationService(pipeline, provider, cfg.Cache.TTL, collector, logger)

			handlers := api.NewHandlers(svc, cfg.Snapshot.Dir, cfg.Report.Dir, logger)
			server := api.NewServer(cfg.Server, handlers, registry, logger)

			logger.Info("starting sleuth-rca", "version", version)
			return server.Run(ctx)
		},
	}
}
