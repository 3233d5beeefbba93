package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"node-proxy-bridge-go/internal/client"
	"node-proxy-bridge-go/internal/config"
	"node-proxy-bridge-go/internal/handler"
	"node-proxy-bridge-go/internal/metrics"
	"node-proxy-bridge-go/internal/middleware"
	"node-proxy-bridge-go/internal/route"
	"node-proxy-bridge-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("proxy-bridge"),
		kong.Description("Path-routed forwarding proxy that restores HTTP_PROXY-style routing for clients that no longer honor it."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newEcho,
			metrics.New,
			route.NewSelector,
			client.NewForwarder,
			func(f *client.Forwarder) service.Forwarder { return f },
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, logStartup, warnConfigPermissions, startServer),
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
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// The proxy imposes no deadline on requests or responses: forwarded
	// calls block until the upstream answers or the client goes away, and
	// streamed bodies can run for hours. Only header reads are bounded.
	e.Server.ReadTimeout = 0
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))

	return e
}

// logStartup logs the corporate-proxy and TLS configuration, mirroring
// what operators need to see first when the bridge misroutes traffic.
func logStartup(cfg *config.Config, logger *slog.Logger) {
	if cfg.ProxyConfigured() {
		logger.Info("corporate proxy configuration",
			"http_proxy_set", cfg.Proxy.HTTPProxy != "",
			"https_proxy_set", cfg.Proxy.HTTPSProxy != "",
			"no_proxy", cfg.Proxy.NoProxy,
		)
	} else {
		logger.Info("no corporate proxy configured - direct connections")
	}

	switch {
	case cfg.TLS.CABundle != "":
		logger.Info("ssl verification enabled with CA bundle", "ca_bundle", cfg.TLS.CABundle)
	case cfg.TLS.Verify:
		logger.Info("ssl verification enabled")
	default:
		logger.Warn("ssl verification disabled - only use in trusted environments")
	}
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, f *client.Forwarder, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "version", version)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			err := e.Shutdown(ctx)
			f.CloseIdleConnections()
			return err
		},
	})
}
