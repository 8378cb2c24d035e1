package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"gowa-sessions/config"
	"gowa-sessions/database"
	"gowa-sessions/internal/cache"
	"gowa-sessions/internal/handler"
	customMiddleware "gowa-sessions/internal/middleware"
	"gowa-sessions/internal/model"
	"gowa-sessions/internal/service"
	"gowa-sessions/internal/waclient"
	"gowa-sessions/internal/ws"
)

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var log zerolog.Logger
	if format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.Level(lvl).With().Timestamp().Logger()
}

func main() {
	// .env is optional, production passes real env vars
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := newLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenAppDB(ctx, cfg.AppDatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("app database")
	}
	defer db.Close()

	if len(os.Args) > 1 && os.Args[1] == "--createschema" {
		if err := database.InitSchema(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("create schema")
		}
		log.Info().Msg("schema ready")
	}

	rdb, err := database.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		// commands fail and get logged until redis comes back
		log.Warn().Err(err).Msg("redis not reachable")
	}
	defer rdb.Close()

	store := model.NewStore(db)
	credStore := waclient.NewSQLiteCredentialStore(cfg.AuthSessionsDir, log.With().Str("component", "credentials").Logger())
	defer credStore.Close()

	hub := ws.NewHub(log.With().Str("component", "ws").Logger())
	go hub.Run(ctx)

	orch := service.NewOrchestrator(service.Deps{
		Store:       store,
		Cache:       cache.NewRedis(rdb),
		Credentials: credStore,
		Factory:     waclient.NewFactory(log.With().Str("component", "whatsmeow").Logger(), cfg.DeviceOSName),
		Publisher:   hub,
		Notifier:    service.NewWebhookNotifier(store, cfg.WebhookTimeout, log.With().Str("component", "webhook").Logger()),
		Media:       service.NewHTTPMediaFetcher(cfg.MediaMaxBytes, cfg.MediaFetchTimeout),
		Log:         log.With().Str("component", "orchestrator").Logger(),
	}, service.Options{
		QRTTL:                cfg.QRTTL,
		ReconnectDelay:       cfg.ReconnectDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	})

	restored, err := orch.RestoreSessions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("restore sessions")
	}
	log.Info().Int("sessions", restored).Msg("sessions restored")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler

	e.Use(middleware.Recover())
	e.Use(customMiddleware.RequestID())
	e.Use(customMiddleware.RequestLogger(log.With().Str("component", "http").Logger()))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.PUT,
			echo.PATCH,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
			echo.HeaderAuthorization,
		},
		AllowCredentials: true,
	}))
	e.OPTIONS("/*", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     cfg.RateBurst,
				ExpiresIn: cfg.RateWindow,
			},
		),
	}))

	h := handler.New(orch, log.With().Str("component", "handler").Logger())

	// public
	e.GET("/", handler.Info)
	e.GET("/health", handler.Health(map[string]handler.Pinger{
		"postgres": db.PingContext,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))

	auth := customMiddleware.NewTokenAuth(cfg.APIToken, cfg.APITokenHash, cfg.JWTSecret)
	api := e.Group("/api", auth.Middleware())

	api.GET("/ws", handler.WebSocketHandler(hub, handler.NewUpgrader(cfg.CORSAllowOrigins), log.With().Str("component", "ws").Logger()))

	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/:sessionId/status", h.GetStatus)
	api.GET("/sessions/:sessionId/qr", h.GetQR)
	api.POST("/sessions/:sessionId/disconnect", h.Disconnect)
	api.DELETE("/sessions/:sessionId", h.DeleteSession)

	api.POST("/sessions/:sessionId/send-message", h.SendMessage)
	api.POST("/sessions/:sessionId/send-media", h.SendMedia)
	api.GET("/sessions/:sessionId/check-number/:number", h.CheckNumber)
	api.GET("/sessions/:sessionId/profile/:number", h.GetProfile)
	api.GET("/sessions/:sessionId/messages", h.ListMessages)
	api.GET("/sessions/:sessionId/messages/export", h.ExportMessages)
	api.POST("/sessions/:sessionId/webhook", h.SetWebhook)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := orch.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("close sessions")
	}
}
