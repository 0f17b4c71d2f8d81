package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ctrlcxy/smart-draw/internal/config"
	"github.com/ctrlcxy/smart-draw/internal/db"
	apihttp "github.com/ctrlcxy/smart-draw/internal/http"
	"github.com/ctrlcxy/smart-draw/internal/llm"
	"github.com/ctrlcxy/smart-draw/internal/repository"
	"github.com/ctrlcxy/smart-draw/internal/service"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Ping(ctx, pool); err != nil {
		logger.Fatal("db ping", zap.Error(err))
	}

	blobRepo := repository.NewPgBlobRepository(pool)
	convRepo := repository.NewPgConversationRepository(pool)
	msgRepo := repository.NewPgMessageRepository(pool)

	historySvc := service.NewHistoryService(logger, convRepo, msgRepo, blobRepo)
	rehydrateSvc := service.NewRehydrateService(logger, convRepo, msgRepo, blobRepo)

	streamClient := llm.NewHTTPStreamClient(cfg.LLMBaseURL, cfg.LLMAPIKey, logger)
	generateSvc := service.NewGenerateService(logger, streamClient, historySvc, msgRepo)

	cache := service.NewMemoryCache()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory cache", zap.Error(err))
		} else {
			cache = service.NewRedisCache(redisClient)
		}
		cancel()
	}
	catalogSvc := service.NewModelCatalogService(logger, cache, cfg.LLMBaseURL, cfg.LLMAPIKey)

	serverConfig := &llm.ProviderConfig{
		Name:    "server",
		Model:   cfg.LLMModel,
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
	}
	if cfg.AccessPassword == "" {
		logger.Warn("access password not configured, requests must carry their own provider config")
	}

	generateHandler := apihttp.NewGenerateHandler(logger, generateSvc, cfg.AccessPassword, serverConfig)
	historyHandler := apihttp.NewHistoryHandler(logger, historySvc, rehydrateSvc)
	modelHandler := apihttp.NewModelHandler(logger, catalogSvc)
	router := apihttp.NewRouter(logger, generateHandler, historyHandler, modelHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
