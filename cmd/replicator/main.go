package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	replication "github.com/Vinicius-Luiz/data-replication-python-service-sub000"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile  string
	envFiles    []string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:           "replicator",
	Short:         "Replicate PostgreSQL tables through RabbitMQ",
	Long:          "Runs a replication task: a full load, change data capture, or both, as described by a task file.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "task.yaml", "Path to the task file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Env files loaded before the task file is read")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")

	rootCmd.AddCommand(runCmd, produceCmd, consumeCmd, fullLoadCmd, slotsCmd, exceptionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "replicator:", err)
		os.Exit(1)
	}
}

// setup loads the task file and installs the process logger.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configFile, envFiles...)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, nil
}

// execute runs fn with a replicator until it returns or the process is
// signalled.
func execute(fn func(ctx context.Context, r *replication.Replicator) error) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer zap.L().Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	r, err := replication.New(cfg, replication.WithPrometheusRegisterer(reg))
	if err != nil {
		return err
	}
	defer r.Close()

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	zap.L().Info("replication task started",
		zap.String("task", cfg.Task.Name),
		zap.String("run_id", r.RunID()))
	err = fn(ctx, r)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	zap.L().Info("replication task finished", zap.String("run_id", r.RunID()), zap.Error(err))
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}
