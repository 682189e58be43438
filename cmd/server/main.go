package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/console-host-control/engine/api/handlers"
	"github.com/console-host-control/engine/internal/config"
	"github.com/console-host-control/engine/internal/host"
	"github.com/console-host-control/engine/internal/macro"
	"github.com/console-host-control/engine/internal/observability"
	"github.com/console-host-control/engine/internal/session"
	"github.com/console-host-control/engine/internal/ws"
)

func main() {
	cfgPath := flag.String("config", "", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		bootLog := observability.InitLogger("hostctl", "info")
		bootLog.Fatal().Err(err).Msg("configuration failed")
	}
	logger := observability.InitLogger("hostctl", cfg.LogLevel)

	callTimeout, _ := cfg.MacroCallTimeout()
	queryInterval, _ := cfg.SessionQueryInterval()

	registry := session.NewRegistry(session.RegistryConfig{
		Session: session.Config{
			Host: host.Config{
				ExecutablePath: cfg.Host.Executable,
				TransportMode:  macro.Mode(cfg.Macro.Transport),
				ShowStatusBar:  cfg.Host.ShowStatusBar,
			},
			Macro: macro.Config{
				Mode:         macro.Mode(cfg.Macro.Transport),
				HelperPath:   cfg.Macro.HelperPath,
				ExtenderPath: cfg.Macro.ExtenderPath,
				CallTimeout:  callTimeout,
				Log:          logger,
			},
			TempRoot:      cfg.Sessions.TempRoot,
			QueryInterval: queryInterval,
			HistoryBytes:  cfg.Sessions.HistoryBytes,
		},
		MaxSessions: cfg.Sessions.Max,
		Log:         logger,
	})

	hubs := ws.NewHubManager()
	wsHandler := ws.NewHandler(hubs, registry, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		handlers.NewSessionHandler(registry, wsHandler, logger).RegisterRoutes(api)
		handlers.NewWebSocketHandler(registry, wsHandler, logger).RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: r,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := registry.CloseAll(ctx); err != nil {
			logger.Warn().Err(err).Msg("session teardown incomplete")
		}
		hubs.Close()
		srv.Shutdown(ctx)
	}()

	logger.Info().Str("listen", cfg.Listen).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
