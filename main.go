package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/chestscan/internal/auth"
	"github.com/example/chestscan/internal/classifier"
	"github.com/example/chestscan/internal/handlers"
	"github.com/example/chestscan/internal/logging"
	"github.com/example/chestscan/internal/notify"
	"github.com/example/chestscan/internal/report"
	"github.com/example/chestscan/internal/repository"
	"github.com/example/chestscan/internal/storage"
	"github.com/example/chestscan/internal/usecase"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	db := initDatabase(ctx, logger)
	predictionRepo := repository.NewPredictionRepository(db, logger)
	accountRepo := repository.NewAccountRepository(db, logger)
	if err := accountRepo.AutoMigrate(ctx); err != nil {
		logger.Fatal("account auto migrate failed", zap.Error(err))
	}
	if err := predictionRepo.AutoMigrate(ctx); err != nil {
		logger.Fatal("prediction auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, logger)

	images, err := storage.NewImageStore(getEnv("MEDIA_ROOT", "./media"))
	if err != nil {
		logger.Fatal("failed to initialize image store", zap.Error(err))
	}

	// The process must not start serving with no model.
	modelPath := getEnv("MODEL_PATH", "models/pneumonia_model.tflite")
	clf, err := classifier.NewTFLiteClassifier(modelPath, logger)
	if err != nil {
		logger.Fatal("model unavailable", zap.Error(err), zap.String("model_path", modelPath))
	}

	sender := initSender(logger)

	cache := usecase.NewRedisCache(redisClient)
	predictions := usecase.NewPredictionUseCase(predictionRepo, accountRepo, images, cache, clf, sender, logger)

	jwtSecret := getEnv("JWT_SECRET", "dev-secret")
	jwtAudience := os.Getenv("JWT_AUDIENCE")
	accounts := usecase.NewAccountUseCase(accountRepo, sender, jwtSecret, 24*time.Hour, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(jwtSecret, jwtAudience)
	handlers.RegisterRoutes(r, predictions, accounts, report.NewGenerator(), authMiddleware)

	server := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	logger.Info("chestscan API listening", zap.String("addr", ":8080"))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, zapLogger *zap.Logger) *gorm.DB {
	dsn := getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=chestscan port=5432 sslmode=disable")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Info)})
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

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, zapLogger *zap.Logger) *redis.Client {
	addr := getEnv("REDIS_ADDR", "redis:6379")
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// initSender builds the notification sender from NOTIFY_URLS (comma-separated
// shoutrrr service URLs, e.g. an smtp:// URL). Without URLs notifications are
// dropped; results are still persisted and served.
func initSender(logger *zap.Logger) notify.Sender {
	raw := strings.TrimSpace(os.Getenv("NOTIFY_URLS"))
	if raw == "" {
		logger.Warn("NOTIFY_URLS not set, notifications disabled")
		return notify.NopSender{}
	}

	urls := strings.Split(raw, ",")
	for i := range urls {
		urls[i] = strings.TrimSpace(urls[i])
	}
	sender, err := notify.NewShoutrrrSender(urls, 10*time.Second)
	if err != nil {
		logger.Warn("invalid NOTIFY_URLS, notifications disabled", zap.Error(err))
		return notify.NopSender{}
	}
	return sender
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
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

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
