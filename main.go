package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"medilink_back_end_go/auth"
	"medilink_back_end_go/config"
	"medilink_back_end_go/db"
	"medilink_back_end_go/routes"
	"medilink_back_end_go/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLogger := zerolog.New(os.Stderr)
		errLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	pool, err := db.InitDatabase(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to the database")
	}
	defer pool.Close()

	store := services.NewPgChatStore(pool)
	verifier := auth.NewVerifier(cfg.JWTSecret)
	registry := services.NewRegistry()

	provider := services.NewExpoClient(cfg.PushAPIURL, logger)
	queue, err := services.NewPushQueue(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build push queue")
	}
	if queue != nil {
		defer queue.Close()
	}
	dispatcher := services.NewPushDispatcher(store, provider, queue, logger)

	relay := services.NewRelay(store, registry, dispatcher, logger)
	socket := services.NewSocketServer(registry, relay, verifier, logger)
	chat := services.NewChatService(store, logger)

	// Queued push deliveries run in-process next to the API.
	if cfg.RedisURL != "" {
		worker, mux, err := services.NewPushWorker(cfg.RedisURL, dispatcher)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build push worker")
		}
		go func() {
			if err := worker.Run(mux); err != nil {
				logger.Error().Err(err).Msg("push worker stopped")
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.SetupChatRoutes(r, chat, socket, verifier)

	logger.Info().Str("port", cfg.Port).Msg("starting server")
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
