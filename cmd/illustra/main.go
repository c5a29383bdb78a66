package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/illustra-ai/illustra/internal/cache"
	"github.com/illustra-ai/illustra/internal/config"
	"github.com/illustra-ai/illustra/internal/database"
	"github.com/illustra-ai/illustra/internal/dodo"
	"github.com/illustra-ai/illustra/internal/email"
	"github.com/illustra-ai/illustra/internal/replicate"
	"github.com/illustra-ai/illustra/internal/repository"
	"github.com/illustra-ai/illustra/internal/server"
	"github.com/illustra-ai/illustra/internal/service"
	"github.com/illustra-ai/illustra/internal/storage"
	"github.com/illustra-ai/illustra/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	var redisCache *cache.Cache
	if cfg.RedisAddr != "" {
		redisCache, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logr.Warn("redis unavailable, plan cache disabled", "addr", cfg.RedisAddr, "err", err)
			if cerr := redisCache.Close(); cerr != nil {
				logr.Warn("close unreachable redis client", "err", cerr)
			}
			redisCache = nil
		} else {
			defer redisCache.Close()
		}
	}

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	verifier, err := dodo.NewWebhookVerifier(cfg.DodoWebhookSecret)
	if err != nil {
		log.Fatalf("webhook verifier: %v", err)
	}

	replicateClient := replicate.NewClient(cfg, logr)
	dodoClient := dodo.NewClient(cfg.DodoAPIKey, cfg.DodoBaseURL(), cfg.FrontendURL+"/payment-status")
	mailer := email.NewClient(cfg.PostmarkServerToken, cfg.EmailFrom)

	userRepo := repository.NewUserRepository(db)
	imageRepo := repository.NewImageRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	planRepo := repository.NewPlanRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	authCodeRepo := repository.NewAuthCodeRepository(db)

	authService := service.NewAuthService(logr, userRepo, authCodeRepo, sessionRepo, mailer, cfg.SignupCredits, cfg.SessionTTL)
	userService := service.NewUserService(logr, userRepo, transactionRepo)
	planService := service.NewPlanService(logr, planRepo, redisCache)
	generationService := service.NewGenerationService(logr, userRepo, imageRepo, replicateClient, uploader)
	billingService := service.NewBillingService(logr, userRepo, planRepo, dodoClient)
	webhookService := service.NewWebhookService(logr, verifier, dodoClient, transactionRepo, userRepo)

	go authService.RunCleanup(ctx, time.Hour)

	srv := server.New(server.Deps{
		Addr:          cfg.ListenAddr,
		FrontendURL:   cfg.FrontendURL,
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
		Log:           logr,
		Auth:          authService,
		Users:         userService,
		Generation:    generationService,
		Billing:       billingService,
		Plans:         planService,
		Webhooks:      webhookService,
	})

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
