package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"cardDesigner/internal/api"
	"cardDesigner/internal/assets"
	"cardDesigner/internal/auth"
	"cardDesigner/internal/codes"
	"cardDesigner/internal/config"
	"cardDesigner/internal/database"
	"cardDesigner/internal/fonts"
	"cardDesigner/internal/pdf"
	"cardDesigner/internal/storage"
	"cardDesigner/internal/store"
	"cardDesigner/internal/visitors"
)

func main() {
	// 本地开发时从 .env 读取，容器中直接使用环境变量。
	_ = godotenv.Load()
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	logger.Info("database ready", slog.String("host", cfg.Database.Host), slog.String("db", cfg.Database.Name))

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	var authService *auth.AuthService
	if cfg.Auth.PublicKeyPEM != "" {
		authService, err = auth.NewAuthService([]byte(cfg.Auth.PublicKeyPEM))
		if err != nil {
			log.Fatalf("init auth service: %v", err)
		}
	} else {
		logger.Warn("AUTH_JWT_PUBLIC_KEY not set, write routes are not protected")
	}

	fontLib := fonts.NewLibrary(cfg.Render.FontDir)
	fetcher := assets.NewFetcher(cfg.API.PublicBaseURL, cfg.Render.FetchTimeout, cfg.Render.FetchRetries)
	layouts := store.NewCached(
		store.NewDBStore(db),
		store.NewRedisCache(redisClient, cfg.Redis.CacheKey, cfg.Redis.CacheTTL),
		logger,
	)

	badges := &api.BadgeService{
		Layouts:  layouts,
		Visitors: visitors.NewGormDirectory(db),
		Assets: &assets.Gatherer{
			Resolver: assets.NewResolver(storageClient, cfg.Render.PhotoPrefix, cfg.Render.PresignTTL, fontLib),
			Prober:   fetcher,
			Codes:    codes.NewURLBuilder(cfg.API.PublicBaseURL, cfg.Render.QREndpoint),
			Logger:   logger,
		},
		Logger: logger,
	}

	var pdfFunc api.PDFFunc
	if cfg.Render.ChromiumEnabled {
		pdfFunc = pdf.GeneratePDFFromHTML
	}

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, api.Dependencies{
		Config:      cfg,
		DB:          db,
		Layouts:     layouts,
		Cache:       store.NewRedisCache(redisClient, cfg.Redis.CacheKey, cfg.Redis.CacheTTL),
		Badges:      badges,
		Queue:       asynqClient,
		Redis:       redisClient,
		Storage:     storageClient,
		AuthService: authService,
		Fonts:       fontLib,
		Images:      fetcher,
		PDF:         pdfFunc,
		Logger:      logger,
	})

	address := fmt.Sprintf(":%d", cfg.API.Port)
	logger.Info("api listening", slog.String("address", address))
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
