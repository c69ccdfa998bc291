package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/label-scan/internal/auth"
	"github.com/example/label-scan/internal/handlers"
	"github.com/example/label-scan/internal/logging"
	"github.com/example/label-scan/internal/recognition"
	"github.com/example/label-scan/internal/repository"
	"github.com/example/label-scan/internal/scanner"
	"github.com/example/label-scan/internal/storage"
)

const defaultBucket = "unr-cs442"

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if len(os.Args) > 1 && os.Args[1] == "serve" {
		runServe(logger)
		return
	}
	runScan(logger)
}

// runScan enumerates the configured bucket and detects labels in every
// object, printing per-image progress to stdout.
func runScan(logger *zap.Logger) {
	ctx := context.Background()
	svc := buildScanService(ctx, logger, os.Stdout)

	banner := strings.Repeat("-", 88)
	fmt.Println(banner)
	fmt.Println("Welcome to the Amazon Rekognition image detection demo!")
	fmt.Println(banner)

	summary, err := svc.ScanBucket(ctx)
	if err != nil {
		logger.Fatal("bucket scan failed", zap.Error(err))
	}

	fmt.Println("Thanks for watching!")
	fmt.Println(banner)

	logger.Info("scan finished",
		zap.String("bucket", summary.Bucket),
		zap.Int("images", summary.ImagesScanned),
		zap.Int("labels", summary.LabelsFound),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
}

// runServe exposes label detection and scan lookups over HTTP.
func runServe(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("failed to load AWS configuration", zap.Error(err))
	}
	detector := recognition.NewLabelDetector(rekognition.NewFromConfig(awsCfg), logger)

	db := initDatabase(ctx, logger)
	repo := repository.NewScanRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	cache := scanner.NewRedisCache(initRedis(redisCtx, logger))

	svc := scanner.New(scanner.Config{
		Detector: detector,
		Repo:     repo,
		Cache:    cache,
		Logger:   logger,
	})

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	jwtSecret := getEnv("JWT_SECRET", "dev-secret")
	jwtAudience := os.Getenv("JWT_AUDIENCE")
	authMiddleware := auth.JWTMiddleware(jwtSecret, jwtAudience)

	handlers.RegisterRoutes(r, svc, authMiddleware, logger)

	addr := getEnv("HTTP_ADDR", ":8080")
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	logger.Info("label-scan API listening", zap.String("addr", addr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// buildScanService wires the AWS clients and optional persistence/cache
// collaborators for the demo scan. Persistence and cache are skipped when
// their endpoints are not configured, so the demo runs with nothing but
// ambient AWS credentials.
func buildScanService(ctx context.Context, logger *zap.Logger, out io.Writer) *scanner.Service {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("failed to load AWS configuration", zap.Error(err))
	}

	cfg := scanner.Config{
		Lister:   storage.NewBucketLister(s3.NewFromConfig(awsCfg), logger),
		Detector: recognition.NewLabelDetector(rekognition.NewFromConfig(awsCfg), logger),
		Logger:   logger,
		Out:      out,
		Bucket:   getEnv("SCAN_BUCKET", defaultBucket),
	}

	if os.Getenv("DATABASE_DSN") != "" {
		db := initDatabase(ctx, logger)
		repo := repository.NewScanRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		cfg.Repo = repo
	}

	if os.Getenv("REDIS_ADDR") != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		cfg.Cache = scanner.NewRedisCache(initRedis(redisCtx, logger))
	}

	return scanner.New(cfg)
}

func initDatabase(ctx context.Context, zapLogger *zap.Logger) *gorm.DB {
	dsn := getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=labelscan port=5432 sslmode=disable")
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
