// Command durablesaga runs the sample order saga in process or on a
// Temporal cluster.
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

	"github.com/fortressi/durablesaga"
	"github.com/fortressi/durablesaga/internal/config"
	sqlitestore "github.com/fortressi/durablesaga/store/sqlite"
	redisstore "github.com/fortressi/durablesaga/store/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "durablesaga",
		Short:         "Run saga workflows with compensation",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = initLogger(cfg.LogLevel)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.AddCommand(
		newRunCmd(a),
		newPlanCmd(a),
		newListCmd(a),
		newWorkerCmd(a),
		newStartCmd(a),
	)
	return root
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}

// openStore opens the configured store. The returned close function is
// never nil.
func (a *app) openStore() (durablesaga.Store, func(), error) {
	noop := func() {}
	switch a.cfg.Store.Driver {
	case "memory":
		return durablesaga.NewMemoryStore(), noop, nil
	case "file":
		s, err := durablesaga.NewFileStore(a.cfg.Store.Path)
		return s, noop, err
	case "sqlite":
		s, err := sqlitestore.New(a.cfg.Store.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Store.RedisAddr,
			Password: a.cfg.Store.RedisPassword,
			DB:       a.cfg.Store.RedisDB,
		})
		return redisstore.New(client, a.cfg.Store.RedisTTL, a.logger), func() { client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unsupported store: %s", a.cfg.Store.Driver)
	}
}

// serveMetrics registers the saga metrics and, when a metrics address is
// configured, serves them until ctx is done.
func (a *app) serveMetrics(ctx context.Context) *durablesaga.Metrics {
	reg := prometheus.NewRegistry()
	metrics := durablesaga.NewMetrics(reg)
	if a.cfg.MetricsAddr == "" {
		return metrics
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("serving metrics", zap.String("addr", a.cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return metrics
}
