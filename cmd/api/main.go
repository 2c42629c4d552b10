package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/asktech/accounts-api/internal/account"
	"github.com/asktech/accounts-api/internal/config"
	"github.com/asktech/accounts-api/internal/database"
	"github.com/asktech/accounts-api/internal/email"
	httpServer "github.com/asktech/accounts-api/internal/http"
	"github.com/asktech/accounts-api/internal/logging"
	"github.com/asktech/accounts-api/internal/ratelimit"
	"github.com/asktech/accounts-api/internal/storage"
	"github.com/asktech/accounts-api/internal/token"
	"github.com/asktech/accounts-api/internal/user"

	"github.com/uptrace/bun"
)

// @title           AskTech Accounts API
// @version         1.0
// @description     Account management for the AskTech Q&A platform: registration, email verification, passwords, sessions and profiles.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting accounts api",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
	)

	db, err := initDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	redisClient, err := initRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	userRepo := user.NewRepository(db)
	blacklist := token.NewBlacklist(redisClient)
	rateLimiter := ratelimit.NewLimiter(redisClient)

	emailTokens, err := token.NewEmailTokenService(cfg.Token.EmailTokenKey)
	if err != nil {
		return fmt.Errorf("failed to initialize email token service: %w", err)
	}
	sessions := token.NewSessionTokenService(
		cfg.Token.SessionSecret,
		cfg.Token.AccessTokenDuration,
		cfg.Token.RefreshTokenDuration,
	)

	avatarStore, err := storage.NewS3Store(context.Background(), cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	emailService := email.NewService(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword,
		cfg.Email.FrontendURL,
	)

	accountService := account.NewService(
		userRepo,
		emailTokens,
		sessions,
		blacklist,
		emailService,
		avatarStore,
		logger,
		cfg.Token.VerificationTokenTTL,
		cfg.Token.ResetTokenTTL,
	)

	handler := account.NewHandler(accountService, rateLimiter, logger)
	authMiddleware := account.NewMiddleware(sessions, userRepo)

	router := httpServer.NewRouter(cfg, handler, authMiddleware, logger)

	server := httpServer.NewServer(
		":"+cfg.Server.Port,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Printf("Received signal: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

func initDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return database.NewBunDB(sqlDB), nil
}

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
