package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-gateway-go/internal/clock"
	"github.com/openclaw/pairing-gateway-go/internal/config"
	"github.com/openclaw/pairing-gateway-go/internal/database"
	"github.com/openclaw/pairing-gateway-go/internal/handler"
	"github.com/openclaw/pairing-gateway-go/internal/jobs"
	"github.com/openclaw/pairing-gateway-go/internal/link"
	"github.com/openclaw/pairing-gateway-go/internal/middleware"
	"github.com/openclaw/pairing-gateway-go/internal/redis"
	"github.com/openclaw/pairing-gateway-go/internal/repository"
	"github.com/openclaw/pairing-gateway-go/internal/service"
	"github.com/openclaw/pairing-gateway-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	var db *database.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply database schema")
		}
		cancel()
		log.Info().Msg("database connected")
	}

	clk := clock.Real()

	var credentials repository.CredentialStore
	switch cfg.CredentialStore {
	case config.CredentialStorePostgres:
		credentials = repository.NewPostgresCredentialStore(db.DB, cfg.CredentialKey)
	default:
		credentials = repository.NewRedisCredentialStore(redisClient.Client, cfg.CredentialKey)
	}

	var archive repository.SessionArchive
	if db != nil {
		archive = repository.NewSessionArchive(db.DB)
	}

	bridge, err := newBridge(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Str("transport", cfg.LinkTransport).Msg("failed to start collaborator bridge")
	}
	defer bridge.Close()

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	codes := service.NewCodeGenerator(cfg.CodeLength, clk)
	store := repository.NewMemorySessionStore(codes, clk, repository.RetentionPolicy{
		Mode:   cfg.SessionRetention,
		Window: cfg.RetentionWindow(),
	})

	reconciler := service.NewReconciler(store, broker)
	tracker := service.NewConnectionTracker(bridge, credentials, reconciler, broker, clk, service.TrackerOptions{
		ReconnectBackoff:    cfg.ReconnectBackoff(),
		InitRetryBackoff:    cfg.InitRetryBackoff(),
		MaxBackoff:          cfg.MaxBackoff(),
		MaxAttempts:         cfg.MaxReconnectAttempts,
		CollaboratorTimeout: cfg.CollaboratorTimeout(),
	})
	defer tracker.Close()

	pairingService := service.NewPairingService(
		store, tracker, service.NewQRRenderer(cfg.QRImageSize), archive, broker, clk,
		service.PairingConfig{CodeTTL: cfg.CodeTTL(), Retention: cfg.SessionRetention},
	)
	defer pairingService.Close()

	rateLimiter := service.NewRateLimiter(redisClient.Client, clk, cfg.CodeRateLimitFailOpen)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)
	codeRateLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, cfg.CodeRateLimitPerMin, config.CodeRateLimitWindow,
	)
	operatorAuth := middleware.NewOperatorAuth(cfg.OperatorToken)

	pairingHandler := handler.NewPairingHandler(pairingService)
	eventsHandler := handler.NewEventsHandler(broker, pairingService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":          "ok",
			"connectionState": tracker.State(),
			"timestamp":       time.Now().UnixMilli(),
		})
	})

	// The event stream outlives the request timeout.
	r.Get("/api/events", eventsHandler.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(bodyLimitMiddleware.Handler)
		r.Mount("/", pairingHandler.Routes(codeRateLimitMiddleware.Handler, operatorAuth.Handler))
	})

	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		r.NotFound(handler.StaticFileServer(cfg.StaticDir, "/").ServeHTTP)
	}

	sweepJob := jobs.NewSweepJob(cfg.SweepInterval(), jobs.SweepTask{
		Name: "pairing sessions",
		Run:  pairingService.Sweep,
	})
	if err := sweepJob.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start sweep job")
	}
	defer sweepJob.Stop()

	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.CollaboratorTimeout())
	if err := tracker.Start(startCtx); err != nil {
		log.Warn().Err(err).Msg("collaborator not reachable at boot, retry scheduled")
	}
	startCancel()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newBridge(cfg *config.Config, redisClient *redis.Client) (link.Collaborator, error) {
	switch cfg.LinkTransport {
	case config.TransportMQTT:
		return link.NewMQTTBridge(link.MQTTOptions{
			BrokerURL:     cfg.MQTTBrokerURL,
			ClientID:      cfg.MQTTClientID,
			EventsTopic:   cfg.LinkEventsChannel,
			CommandsTopic: cfg.LinkCommandsChannel,
			SinkTimeout:   cfg.CollaboratorTimeout(),
		})
	default:
		ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
		defer cancel()
		return link.NewRedisBridge(ctx, redisClient.Client, cfg.LinkEventsChannel, cfg.LinkCommandsChannel, cfg.CollaboratorTimeout())
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
