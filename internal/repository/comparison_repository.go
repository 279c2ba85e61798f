package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/idcompare/internal/logging"
)

// ErrNotFound is returned when no comparison matches the lookup.
var ErrNotFound = errors.New("comparison not found")

// ComparisonLog represents a persisted document comparison.
type ComparisonLog struct {
	ID            uint      `gorm:"primaryKey"`
	RequestID     string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID        string    `gorm:"column:user_id;size:64;index:idx_user_pair"`
	PairHash      string    `gorm:"column:pair_hash;size:40;index:idx_user_pair"`
	FaceScore     float64   `gorm:"column:face_score"`
	TextScore     float64   `gorm:"column:text_score"`
	OverallScore  float64   `gorm:"column:overall_score"`
	FaceDetected  bool      `gorm:"column:face_detected"`
	RecordsParsed bool      `gorm:"column:records_parsed"`
	Matched       bool      `gorm:"column:matched"`
	Details       string    `gorm:"column:details;type:text"`
	LatencyMs     int64     `gorm:"column:latency_ms"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ComparisonLog) TableName() string {
	return "comparison_logs"
}

// MetricsAggregation is the raw aggregate over all comparisons.
type MetricsAggregation struct {
	TotalCount                 int64
	MatchedCount               int64
	AverageScore               float64
	AverageProcessingLatencyMs float64
}

// ComparisonRepository provides persistence APIs for comparison logs.
type ComparisonRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewComparisonRepository creates a new repository instance.
func NewComparisonRepository(db *gorm.DB, logger *zap.Logger) *ComparisonRepository {
	return &ComparisonRepository{
		db:             db,
		logger:         logger.Named("comparison_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ComparisonRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&ComparisonLog{})
	})
}

// SaveLog persists a comparison log entry.
func (r *ComparisonRepository) SaveLog(ctx context.Context, log *ComparisonLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves a comparison matching the request and owner.
func (r *ComparisonRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*ComparisonLog, error) {
	var log ComparisonLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, logging.NewOperationError("repository.find_by_request", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists the user's other comparisons of the same image pair, newest first.
func (r *ComparisonRepository) FindDuplicatesByHash(ctx context.Context, userID, pairHash, excludeRequestID string) ([]*ComparisonLog, error) {
	var logs []*ComparisonLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND pair_hash = ? AND request_id <> ?", userID, pairHash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics summarizes every stored comparison.
func (r *ComparisonRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount   int64
		MatchedCount int64
		AverageScore float64
		AverageLat   float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&ComparisonLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN matched THEN 1 ELSE 0 END), 0) AS matched_count, " +
				"COALESCE(AVG(overall_score), 0) AS average_score, " +
				"COALESCE(AVG(latency_ms), 0) AS average_lat").
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:                 row.TotalCount,
		MatchedCount:               row.MatchedCount,
		AverageScore:               row.AverageScore,
		AverageProcessingLatencyMs: row.AverageLat,
	}, nil
}

func (r *ComparisonRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !IsTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

// IsTransientError reports whether err is worth retrying.
func IsTransientError(err error) bool {
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
