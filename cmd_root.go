package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sitekit_datastore/internal/api"
	"sitekit_datastore/internal/config"
	"sitekit_datastore/internal/metrics"
	"sitekit_datastore/internal/modules"
	"sitekit_datastore/src/logger"
	"sitekit_datastore/src/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// app is what every subcommand runs against
type app struct {
	config   *config.Config
	registry *modules.Registry
	cleanup  []func()
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// newRootCmd returns the command tree and the app it runs against; the
// caller closes the app once the command returns.
func newRootCmd() (*cobra.Command, *app) {
	var (
		configPath  string
		metricsAddr string
		a           = &app{}
	)

	root := &cobra.Command{
		Use:           "sitekit",
		Short:         "Read and update Site Kit module settings and reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			if err := logger.InitLogger(cfg.Log); err != nil {
				return err
			}
			a.config = cfg
			return a.start(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "sitekit.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newModulesCmd(a),
		newSettingsCmd(a),
		newReportCmd(a),
	)
	return root, a
}

func (a *app) start(ctx context.Context) error {
	if a.config.API.BaseURL == "" {
		return errors.New("api.base_url is not configured (set SITEKIT_API_BASE_URL)")
	}

	collectors := metrics.New()
	registry := prometheus.NewRegistry()
	if err := collectors.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if addr := a.config.Metrics.Addr; addr != "" {
		a.serveMetrics(addr, registry)
	}

	opts := []modules.Option{
		modules.WithContext(ctx),
		modules.WithMetrics(collectors),
	}
	if url := a.config.Cache.RedisURL; url != "" {
		cache, err := storage.NewRedisCache(ctx, url, a.config.Cache.TTL, a.config.Cache.Prefix)
		if err != nil {
			return err
		}
		a.cleanup = append(a.cleanup, func() { _ = cache.Close() })
		opts = append(opts, modules.WithReportCache(cache))
		logger.Debug().Msg("shared report cache enabled")
	}

	reg, err := modules.NewRegistry(api.NewClientFromConfig(a.config.API), opts...)
	if err != nil {
		return err
	}
	a.registry = reg
	a.cleanup = append(a.cleanup, reg.Close)
	return nil
}

func (a *app) serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	a.cleanup = append(a.cleanup, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	logger.Info().Str("addr", addr).Msg("serving metrics")
}

func newModulesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the known modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, slug := range a.registry.Slugs() {
				m, err := a.registry.Module(slug)
				if err != nil {
					return err
				}
				reports := "-"
				if m.Report != nil {
					reports = "report"
				}
				fmt.Fprintf(out, "%-24s %-24s %s\n", m.Slug, m.Name, reports)
			}
			return nil
		},
	}
}
