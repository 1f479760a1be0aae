package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/id-verify/internal/auth"
	"github.com/example/id-verify/internal/config"
	"github.com/example/id-verify/internal/extractor"
	"github.com/example/id-verify/internal/facematch"
	"github.com/example/id-verify/internal/handlers"
	"github.com/example/id-verify/internal/imaging"
	"github.com/example/id-verify/internal/logging"
	"github.com/example/id-verify/internal/repository"
	"github.com/example/id-verify/internal/task"
	"github.com/example/id-verify/internal/usecase"
	"github.com/example/id-verify/internal/verdict"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	db := openDatabase(cfg, logger)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingDependencies(ctx, db, redisClient, logger)

	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	store := task.NewStore(cfg.Pipeline.TaskTTL)
	stopJanitor := store.StartJanitor(cfg.Pipeline.JanitorPeriod)
	defer stopJanitor()

	ingestor := imaging.NewIngestor(cfg.Pipeline.MaxImageBytes, logger)
	ocrClient := extractor.NewHTTPClient(cfg.OCR.BaseURL, cfg.OCR.Timeout, logger)
	faceClient := facematch.NewHTTPClient(cfg.Face.BaseURL, cfg.Face.Timeout, logger)

	cache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewVerificationUseCase(store, ingestor, ocrClient, faceClient, cache, repo, logger, usecase.Options{
		Thresholds: verdict.Thresholds{
			CardFace:   cfg.Face.CardFaceThreshold,
			PersonFace: cfg.Face.PersonFaceThreshold,
		},
		RetryAttempts:  cfg.Pipeline.RetryAttempts,
		InitialBackoff: cfg.Pipeline.InitialBackoff,
		MaxBackoff:     cfg.Pipeline.MaxBackoff,
		CacheTTL:       cfg.Pipeline.TaskTTL,
	})

	r := gin.Default()

	authMiddleware := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	handlers.RegisterRoutes(r, uc, authMiddleware)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	logger.Info("identity verification API listening", zap.String("addr", cfg.HTTP.Addr))
	if err := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func openDatabase(cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db
}

// pingDependencies checks Postgres and Redis reachability concurrently and
// fails fast if either is down.
func pingDependencies(ctx context.Context, db *gorm.DB, redisClient *redis.Client, zapLogger *zap.Logger) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	g, pingCtx := errgroup.WithContext(pingCtx)
	g.Go(func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(pingCtx)
	})
	g.Go(func() error {
		return redisClient.Ping(pingCtx).Err()
	})
	if err := g.Wait(); err != nil {
		zapLogger.Fatal("dependency ping failed", zap.Error(err))
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithListener(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, listener, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
