package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/vela/internal/api"
	"github.com/oriys/vela/internal/broker"
	"github.com/oriys/vela/internal/bulk"
	"github.com/oriys/vela/internal/circuitbreaker"
	"github.com/oriys/vela/internal/config"
	"github.com/oriys/vela/internal/journal"
	"github.com/oriys/vela/internal/logging"
	"github.com/oriys/vela/internal/metrics"
	"github.com/oriys/vela/internal/observability"
	"github.com/oriys/vela/internal/orchestrator"
	"github.com/oriys/vela/internal/router"
	"github.com/oriys/vela/internal/scaler"
)

func daemonCmd() *cobra.Command {
	var (
		logLevel string
		httpAddr string
		noScaler bool
		noRouter bool
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the router and elasticity controller",
		Long:  "Consume the ingress queue, dispatch classified jobs, and scale worker deployments from queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("broker-url") {
				cfg.Broker.URL = brokerURL
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
				cfg.Observability.Logging.Level = logLevel
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.Daemon.HTTPAddr = httpAddr
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.Init(cfg.Observability.Metrics.Namespace, nil)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Broker connection with the startup retry budget; exhaustion
			// is a non-zero exit.
			b, err := broker.Connect(ctx, cfg.Broker.URL)
			if err != nil {
				return err
			}
			defer b.Close()

			// Bulk adapter is present only with a complete account.
			var submitter bulk.Submitter
			if cfg.BulkConfigured() {
				client, err := bulk.NewClient(bulk.Account{
					Name: cfg.Bulk.AccountName,
					Key:  cfg.Bulk.AccountKey,
					URL:  cfg.Bulk.AccountURL,
				})
				if err != nil {
					return fmt.Errorf("bulk client: %w", err)
				}
				submitter = client
				logging.Op().Info("bulk dispatch enabled", "account", cfg.Bulk.AccountName)
			} else {
				if cfg.BulkPartiallyConfigured() {
					logging.Op().Warn("bulk account partially configured, bulk dispatch disabled")
				} else {
					logging.Op().Info("bulk dispatch disabled")
				}
			}

			// Routing-event journal: bounded memory window, plus Postgres
			// when a DSN is configured.
			journals := journal.Multi{journal.NewMemory(cfg.Journal.TTL, cfg.Journal.MaxEntries)}
			if cfg.Journal.PostgresDSN != "" {
				pg, err := journal.NewPostgres(ctx, cfg.Journal.PostgresDSN)
				if err != nil {
					return fmt.Errorf("journal postgres: %w", err)
				}
				journals = append(journals, pg)
				logging.Op().Info("durable routing journal enabled")
			}
			defer journals.Close()

			if cfg.Journal.LogFile != "" {
				if err := logging.Default().SetOutput(cfg.Journal.LogFile); err != nil {
					return fmt.Errorf("routing log file: %w", err)
				}
				defer logging.Default().Close()
			}

			var wg sync.WaitGroup

			if !noRouter {
				breaker := circuitbreaker.New(circuitbreaker.DefaultConfig)
				r := router.New(b, submitter, breaker, journals, router.Config{
					IngressQueue: cfg.Router.IngressQueue,
					ReceiveWait:  cfg.Router.ReceiveWait,
				})
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := r.Run(ctx); err != nil {
						logging.Op().Error("router exited", "error", err)
					}
				}()
			}

			if !noScaler {
				orch, err := orchestrator.NewKubectl(orchestrator.Config{
					Namespace:  cfg.Orchestrator.Namespace,
					Kubeconfig: cfg.Orchestrator.Kubeconfig,
				})
				if err != nil {
					return fmt.Errorf("orchestrator: %w", err)
				}
				sc := scaler.New(b, orch, scaler.Config{
					Interval:    cfg.Scaler.Interval,
					Pairs:       cfg.Scaler.Pairs,
					MinReplicas: cfg.Scaler.MinReplicas,
					MaxReplicas: cfg.Scaler.MaxReplicas,
				})
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := sc.Run(ctx); err != nil {
						logging.Op().Error("elasticity controller exited", "error", err)
					}
				}()
			}

			var statusSrv *api.Server
			if cfg.Daemon.HTTPAddr != "" {
				statusSrv = api.New(cfg.Daemon.HTTPAddr, b, journals)
				statusSrv.Start()
			}

			logging.Op().Info("vela daemon started",
				"ingress", cfg.Router.IngressQueue,
				"namespace", cfg.Orchestrator.Namespace,
				"bulk", submitter != nil)

			<-ctx.Done()
			logging.Op().Info("shutdown signal received")

			// Both loops drain their in-flight work before returning.
			wg.Wait()

			if statusSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := statusSrv.Shutdown(shutdownCtx); err != nil {
					logging.Op().Warn("status server shutdown failed", "error", err)
				}
			}

			logging.Op().Info("vela daemon stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "Status server address (e.g. :8080)")
	cmd.Flags().BoolVar(&noRouter, "no-router", false, "Disable the router loop")
	cmd.Flags().BoolVar(&noScaler, "no-scaler", false, "Disable the elasticity controller")

	return cmd
}
