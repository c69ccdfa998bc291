package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/example/label-scan/internal/logging"
	"github.com/example/label-scan/internal/recognition"
	"github.com/example/label-scan/internal/repository"
	"github.com/example/label-scan/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoRepository is returned by lookups when the service runs without
// persistence configured.
var ErrNoRepository = errors.New("scan persistence is not configured")

// DefaultMaxLabels is the per-image bound requested from the recognition
// service during bucket scans.
const DefaultMaxLabels = 100

// Detector performs remote label detection for a single image.
type Detector interface {
	DetectLabels(ctx context.Context, img recognition.ImageRef, maxLabels int32) ([]string, error)
}

// Lister enumerates the full contents of a storage bucket.
type Lister interface {
	ListAll(ctx context.Context, bucket string) ([]storage.Object, error)
}

// Repository defines the persistence operations needed by the service.
type Repository interface {
	SaveRecord(ctx context.Context, record *repository.ScanRecord) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.ScanRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Service orchestrates bucket scans and single-image detections,
// persisting and caching results when those collaborators are configured.
type Service struct {
	lister         Lister
	detector       Detector
	repo           Repository // optional
	cache          Cache      // optional
	logger         *zap.Logger
	out            io.Writer
	bucket         string
	maxLabels      int32
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Config carries the collaborators for a Service. Repo and Cache may be nil,
// in which case scans run detection-only.
type Config struct {
	Lister    Lister
	Detector  Detector
	Repo      Repository
	Cache     Cache
	Logger    *zap.Logger
	Out       io.Writer
	Bucket    string
	MaxLabels int32
}

// ScanResult is the outcome of detecting labels in one image.
type ScanResult struct {
	RequestID string
	Name      string
	Labels    []string
}

// Summary aggregates one full bucket scan.
type Summary struct {
	Bucket        string
	ImagesScanned int
	LabelsFound   int
	StartedAt     time.Time
	FinishedAt    time.Time
}

type cachedScan struct {
	RequestID  string    `json:"request_id"`
	Bucket     string    `json:"bucket"`
	ObjectKey  string    `json:"object_key"`
	LabelCount int       `json:"label_count"`
	Labels     []string  `json:"labels"`
	CreatedAt  time.Time `json:"created_at"`
}

// New constructs a scan service from the given collaborators.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	maxLabels := cfg.MaxLabels
	if maxLabels <= 0 {
		maxLabels = DefaultMaxLabels
	}
	return &Service{
		lister:         cfg.Lister,
		detector:       cfg.Detector,
		repo:           cfg.Repo,
		cache:          cfg.Cache,
		logger:         logger.Named("scan_service"),
		out:            out,
		bucket:         cfg.Bucket,
		maxLabels:      maxLabels,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// ScanBucket enumerates every object in the configured bucket and detects
// labels in each, in listing order. Progress is printed to the configured
// writer: the display name before each detection, the label count after.
//
// The first failure halts the scan. Output already printed stands; there is
// no partial-results mode and no retry around the detection call.
func (s *Service) ScanBucket(ctx context.Context) (*Summary, error) {
	objects, err := s.lister.ListAll(ctx, s.bucket)
	if err != nil {
		wrapped := logging.NewOperationError("scanner.list_objects", "", err)
		s.logger.Error("bucket listing failed", zap.Error(wrapped), zap.String("bucket", s.bucket))
		return nil, wrapped
	}

	summary := &Summary{Bucket: s.bucket, StartedAt: time.Now().UTC()}
	for _, obj := range objects {
		img := recognition.FromS3Object(s.bucket, obj.Key)
		fmt.Fprintf(s.out, "Detecting labels in %s...\n", img.Name)

		labels, err := s.detector.DetectLabels(ctx, img, s.maxLabels)
		if err != nil {
			wrapped := logging.NewOperationError("scanner.detect_labels", obj.Key, err)
			s.logger.Error("label detection failed", zap.Error(wrapped), zap.String("object_key", obj.Key))
			return nil, wrapped
		}
		fmt.Fprintf(s.out, "Found %d labels.\n", len(labels))

		requestID := uuid.NewString()
		if err := s.record(ctx, requestID, s.bucket, obj.Key, labels); err != nil {
			return nil, err
		}

		summary.ImagesScanned++
		summary.LabelsFound += len(labels)
	}
	summary.FinishedAt = time.Now().UTC()

	s.logger.Info("bucket scan complete",
		zap.String("bucket", s.bucket),
		zap.Int("images", summary.ImagesScanned),
		zap.Int("labels", summary.LabelsFound))
	return summary, nil
}

// DetectUpload detects labels in an image supplied as raw bytes, persisting
// and caching the outcome like a scanned object.
func (s *Service) DetectUpload(ctx context.Context, name string, data []byte) (*ScanResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "scanner.detect_upload", requestID)

	img := recognition.FromBytes(data, name)
	labels, err := s.detector.DetectLabels(ctx, img, s.maxLabels)
	if err != nil {
		wrapped := logging.NewOperationError("scanner.detect_labels", requestID, err)
		opLogger.Error("label detection failed", zap.Error(wrapped), zap.String("image", name))
		return nil, wrapped
	}

	if err := s.record(ctx, requestID, "", name, labels); err != nil {
		return nil, err
	}
	return &ScanResult{RequestID: requestID, Name: name, Labels: labels}, nil
}

// GetRecord retrieves a scan outcome from cache or persistence.
func (s *Service) GetRecord(ctx context.Context, requestID string) (*repository.ScanRecord, error) {
	if s.cache != nil {
		cacheKey := scanCacheKey(requestID)
		if cached, err := s.withCacheGet(ctx, requestID, "cache.get.record", cacheKey); err == nil {
			var payload cachedScan
			if err := json.Unmarshal([]byte(cached), &payload); err != nil {
				logging.WithOperation(s.logger, "scanner.get_record", requestID).Warn("failed to decode cached record", zap.Error(err))
			} else {
				return &repository.ScanRecord{
					RequestID:  payload.RequestID,
					Bucket:     payload.Bucket,
					ObjectKey:  payload.ObjectKey,
					LabelCount: payload.LabelCount,
					Labels:     strings.Join(payload.Labels, ","),
					CreatedAt:  payload.CreatedAt,
				}, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			logging.WithOperation(s.logger, "scanner.get_record", requestID).Warn("failed to read cache", zap.Error(err))
		}
	}

	if s.repo == nil {
		return nil, ErrNoRepository
	}
	return s.repo.FindByRequestID(ctx, requestID)
}

// record persists and caches one detection outcome. A persistence failure
// halts the caller; cache failures are retried per withCacheRetry.
func (s *Service) record(ctx context.Context, requestID, bucket, key string, labels []string) error {
	createdAt := time.Now().UTC()

	if s.repo != nil {
		rec := &repository.ScanRecord{
			RequestID:  requestID,
			Bucket:     bucket,
			ObjectKey:  key,
			LabelCount: len(labels),
			Labels:     strings.Join(labels, ","),
			CreatedAt:  createdAt,
		}
		if err := s.repo.SaveRecord(ctx, rec); err != nil {
			wrapped := logging.NewOperationError("scanner.save_record", requestID, err)
			logging.WithOperation(s.logger, "scanner.save_record", requestID).Error("failed to persist scan record", zap.Error(wrapped))
			return wrapped
		}
	}

	if s.cache != nil {
		payload := cachedScan{
			RequestID:  requestID,
			Bucket:     bucket,
			ObjectKey:  key,
			LabelCount: len(labels),
			Labels:     labels,
			CreatedAt:  createdAt,
		}
		serialized, err := json.Marshal(payload)
		if err != nil {
			logging.WithOperation(s.logger, "scanner.cache_record", requestID).Error("failed to serialize scan record", zap.Error(err))
			return err
		}
		if err := s.withCacheRetry(ctx, requestID, "cache.set.record", func() error {
			return s.cache.Set(ctx, scanCacheKey(requestID), string(serialized), 5*time.Minute)
		}); err != nil {
			logging.WithOperation(s.logger, "scanner.cache_record", requestID).Error("failed to cache scan record", zap.Error(err))
			return err
		}
	}

	return nil
}

func scanCacheKey(requestID string) string {
	return fmt.Sprintf("scan:%s", requestID)
}

func (s *Service) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if s.retryAttempts <= 1 {
		err := fn()
		if errors.Is(err, redis.Nil) {
			return err
		}
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		// A miss is not a failure: return it bare so callers can
		// recognize it, without retrying or logging an error.
		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("cache operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (s *Service) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := s.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := s.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
