package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	authapi "github.com/himawari-dev/line-token-auth/api/echo"
	"github.com/himawari-dev/line-token-auth/cache"
	redisbatch "github.com/himawari-dev/line-token-auth/cache/redis"
	"github.com/himawari-dev/line-token-auth/config"
	"github.com/himawari-dev/line-token-auth/internal/metrics"
	"github.com/himawari-dev/line-token-auth/internal/server"
	"github.com/himawari-dev/line-token-auth/lineapi"
	"github.com/himawari-dev/line-token-auth/mongodb"
	"github.com/himawari-dev/line-token-auth/services"
	"github.com/himawari-dev/line-token-auth/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	initLogger(cfg)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db_name", cfg.MongoDBName).
		Str("log_level", cfg.LogLevel).
		Bool("rotate_tokens", cfg.ChangeHeadersOnEachRequest).
		Int("max_devices", cfg.MaxDevices).
		Msg("Configuration loaded")

	tracerProvider, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize TracerProvider")
	}

	ctx := context.Background()
	mongoClient, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}

	userRepo, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize UserRepository")
	}

	var batch cache.BatchTokenCache
	var memoryBatch *cache.MemoryBatchCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		batch = redisbatch.NewBatchCache(redisClient, "line-token-auth")
		log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis batch token cache")
	} else {
		memoryBatch = cache.NewMemoryBatchCache()
		batch = memoryBatch
		log.Info().Msg("Using in-memory batch token cache")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	provider := lineapi.NewClient(lineapi.Config{
		BaseURL: cfg.LineAPIBaseURL,
		Timeout: 10 * time.Second,
	})
	authenticator := services.NewAuthenticator(provider, cfg.LineChannelID)
	issuer := services.NewSessionIssuer(userRepo, authenticator, cfg.MaxDevices, cfg.TokenLifespan)
	guard := services.NewSessionGuard(userRepo, batch, services.GuardConfig{
		TokenLifespan: cfg.TokenLifespan,
		RotateOnUse:   cfg.ChangeHeadersOnEachRequest,
		BatchThrottle: cfg.BatchBufferThrottle,
	})

	authAPI := authapi.NewAuthAPI(userRepo, issuer, guard, cfg.LiffID)
	httpServer := server.NewHTTPServer(cfg, authAPI)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if memoryBatch != nil {
		memoryBatch.Stop()
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("TracerProvider shutdown error")
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("MongoDB disconnect error")
	}

	log.Info().Msg("Server gracefully stopped")
}

func initLogger(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
