// env.go builds the configuration, logger and engine shared by every
// benchmark command.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kolkov/gostm/internal/config"
	"github.com/kolkov/gostm/internal/logutil"
	"github.com/kolkov/gostm/internal/metrics"
	"github.com/kolkov/gostm/stm"
)

// globalOptions are the persistent flags of the root command.
type globalOptions struct {
	configFile  string
	logLevel    string
	logFile     string
	metricsAddr string
}

// env is everything a benchmark command runs with.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	engine *stm.Engine
	server *http.Server
}

// loadConfig reads --config, or the defaults when it is not set, and applies
// the global flag overrides.
func (o *globalOptions) loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg := config.DefaultConf
	if o.configFile != "" {
		loaded, err := config.Load(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if fs.Changed("log-file") {
		cfg.LogFile = o.logFile
	}
	return &cfg, nil
}

// setup validates cfg and starts the logger, the engine and, when requested,
// the metrics endpoint.
func (o *globalOptions) setup(cfg *config.Config) (*env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lg, err := logutil.InitLogger(cfg.LogConfig())
	if err != nil {
		return nil, err
	}

	opts := cfg.Options()
	opts.Logger = lg
	ev := &env{cfg: cfg, logger: lg, engine: stm.New(opts)}
	lg.Info("engine ready",
		zap.String("version", stm.Version),
		zap.Int("lock-table-size", cfg.Engine.LockTableSize),
		zap.Int("heap-words", cfg.Engine.HeapWords))

	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg, ev.engine); err != nil {
			return nil, errors.Trace(err)
		}
		ev.server = &http.Server{
			Addr:              o.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := ev.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				lg.Error("metrics server stopped", zap.String("addr", o.metricsAddr), zap.Error(err))
			}
		}()
		lg.Info("serving metrics", zap.String("addr", o.metricsAddr))
	}
	return ev, nil
}

// close stops the metrics endpoint and flushes the logger.
func (ev *env) close() {
	if ev.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := ev.server.Shutdown(ctx); err != nil {
			ev.logger.Warn("stopping metrics server", zap.Error(err))
		}
	}
	s := ev.engine.Stats()
	ev.logger.Info("engine summary",
		zap.Uint64("commits", s.Commits),
		zap.Uint64("aborts", s.TotalAborts()),
		zap.Float64("abort-rate", s.AbortRate()),
		zap.Uint64("fault-conflicts", s.FaultConflicts),
		zap.Int64("live-objects", s.Heap.LiveObjects))
	_ = ev.logger.Sync()
}
