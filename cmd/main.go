package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"indicator_service/internal/api"
	"indicator_service/internal/config"
	"indicator_service/internal/domain/model"
	"indicator_service/internal/metrics"
)

const defaultConfigPath = "indicator_service.yaml"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "indicator_service",
		Short:         "City indicator enrichment and imputation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Config file path (YAML)")

	load := func(cmd *cobra.Command) (*config.Config, error) {
		return loadConfig(configPath, cmd.Flags().Changed("config"))
	}

	cmd.AddCommand(serveCmd(load), sourcesCmd(load), modelsCmd(load), assessCmd(load))
	return cmd
}

type configLoader func(cmd *cobra.Command) (*config.Config, error)

// loadConfig reads the YAML file, falls back to defaults when the default
// path is absent, then applies the environment.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	b, err := openBackends(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	service, err := buildService(cfg, b, m, logger)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set, every API request will be rejected")
	}

	handler := api.NewRouter(
		api.NewHandler(service, logger),
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cfg.Auth.JWTSecret,
		cfg.Auth.Issuer,
		logger,
	)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sourcesCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Print the configured data sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			service, closeFn, err := offlineService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			sources, stats := service.ListSources()
			return printJSON(cmd, api.SourcesResponse{
				Sources:       sources,
				TotalSources:  stats.TotalSources,
				ActiveSources: stats.ActiveSources,
				SourceTypes:   stats.SourceTypes,
			})
		},
	}
}

func modelsCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Print the configured prediction models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			service, closeFn, err := offlineService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			models, stats := service.ListModels()
			return printJSON(cmd, api.ModelsResponse{
				Models:      models,
				TotalModels: stats.TotalModels,
				Strategies:  stats.Strategies,
			})
		},
	}
}

func assessCmd(load configLoader) *cobra.Command {
	var (
		indicators string
		lat, lon   float64
	)
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Score source coverage for a set of indicators without fetching",
		RunE: func(cmd *cobra.Command, _ []string) error {
			latSet, lonSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")
			if latSet != lonSet {
				return fmt.Errorf("--lat and --lon must be given together")
			}
			var loc *model.CityLocation
			if latSet {
				loc = &model.CityLocation{Latitude: lat, Longitude: lon}
			}

			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			service, closeFn, err := offlineService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			assessment, err := service.AssessDataQuality(strings.Split(indicators, ","), loc)
			if err != nil {
				return err
			}
			return printJSON(cmd, assessment)
		},
	}
	cmd.Flags().StringVar(&indicators, "indicators", "", "Comma-separated indicator names")
	cmd.Flags().Float64Var(&lat, "lat", 0, "City latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "City longitude")
	_ = cmd.MarkFlagRequired("indicators")
	return cmd
}
