package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"go.uber.org/fx"

	"github.com/denisvmedia/chaosproxy/config"
	"github.com/denisvmedia/chaosproxy/control"
	"github.com/denisvmedia/chaosproxy/proxy"
	"github.com/denisvmedia/chaosproxy/version"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("chaosproxy"),
		kong.Description("Fault-injecting HTTP forward proxy for testing client behavior under failure."),
		kong.Vars{"version": version.String()},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			config.Load,
			newLogger,
			newSelector,
			newProxy,
			control.New,
		),
		fx.Invoke(setDefaultLogger, startProxy, startControl),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	default:
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// setDefaultLogger installs the configured logger process-wide; the proxy
// logs through slog.Default.
func setDefaultLogger(logger *slog.Logger) {
	slog.SetDefault(logger)
}

func newSelector(cfg *config.Config) (proxy.FailureSelector, error) {
	return cfg.Selector()
}

func newProxy(cfg *config.Config, sel proxy.FailureSelector) (*proxy.Proxy, error) {
	return proxy.NewProxy(cfg.ProxyConfig(), sel)
}

func startProxy(lc fx.Lifecycle, prx *proxy.Proxy, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := prx.Start(); err != nil {
				return err
			}
			logger.Info("chaosproxy started",
				"version", prx.Version,
				"addr", prx.Addr().String(),
				"selector", prx.FailureSelector(),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping chaosproxy")
			return prx.Shutdown(ctx)
		},
	})
}

func startControl(lc fx.Lifecycle, cfg *config.Config, srv *control.Server, logger *slog.Logger) {
	if cfg.Control == "" {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := srv.Start(cfg.Control); err != nil {
				return err
			}
			logger.Info("control API started", "addr", cfg.Control)
			return nil
		},
		OnStop: func(_ context.Context) error {
			return srv.Close()
		},
	})
}
