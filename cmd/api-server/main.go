package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medibook/appointment-booking/internal/api"
	"github.com/medibook/appointment-booking/internal/auth"
	"github.com/medibook/appointment-booking/internal/availability"
	"github.com/medibook/appointment-booking/internal/booking"
	"github.com/medibook/appointment-booking/internal/config"
	"github.com/medibook/appointment-booking/internal/db"
	"github.com/medibook/appointment-booking/internal/redisclient"
	"github.com/medibook/appointment-booking/internal/storage"
	"github.com/medibook/appointment-booking/internal/token"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	var log *zap.Logger
	if cfg.Env == "prod" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres and bootstrap the schema
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PgMaxConns)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	migCtx, cancelMig := context.WithTimeout(rootCtx, 30*time.Second)
	err = db.Migrate(migCtx, pgPool)
	cancelMig()
	if err != nil {
		log.Fatal("schema migration error", zap.Error(err))
	}
	log.Info("connected to postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to redis")

	var uploads storage.Uploader
	if cfg.MinioEndpoint != "" {
		uploads, err = storage.NewMinioStorage(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatal("minio connection error", zap.Error(err))
		}
		log.Info("image uploads enabled", zap.String("bucket", cfg.MinioBucket))
	} else {
		log.Info("image uploads disabled, MINIO_ENDPOINT not set")
	}

	repo := booking.NewPgRepository(pgPool)
	slots := availability.NewRedisStore(rdb)
	svc := booking.NewService(repo, slots, auth.CheckPassword, log)
	tokens := token.NewService(cfg.JWTSecret)

	handlers := api.NewHandlers(api.HandlersConfig{
		Service:         svc,
		Tokens:          tokens,
		Uploads:         uploads,
		Log:             log,
		AdminEmail:      cfg.AdminEmail,
		AdminPassword:   cfg.AdminPassword,
		PatientTokenTTL: cfg.PatientTokenTTL,
		StaffTokenTTL:   cfg.StaffTokenTTL,
		StoreTimeout:    cfg.StoreTimeout,
	})

	router := api.NewRouter(api.RouterConfig{
		Handlers: handlers,
		Auth:     api.NewAuth(tokens, log),
		Log:      log,
		PgPool:   pgPool,
		Redis:    rdb,
		Env:      cfg.Env,
		Version:  version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
