package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/chestscan/internal/logging"
)

// PredictionRepository provides persistence APIs for prediction records.
type PredictionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB, logger *zap.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:             db,
		logger:         logger.Named("prediction_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the predictions schema is available.
func (r *PredictionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Prediction{})
}

// Save persists a prediction record.
func (r *PredictionRepository) Save(ctx context.Context, pred *Prediction) error {
	return r.executeWithRetry(ctx, "repository.save_prediction", pred.RecordID, func() error {
		return r.db.WithContext(ctx).Create(pred).Error
	})
}

// FindByRecordID retrieves one record by its public identifier. Ownership is
// enforced by the caller, which needs the record to distinguish Forbidden
// from NotFound.
func (r *PredictionRepository) FindByRecordID(ctx context.Context, recordID string) (*Prediction, error) {
	var pred Prediction
	err := r.db.WithContext(ctx).First(&pred, "record_id = ?", recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pred, nil
}

// CountByOwner returns the total number of records for one owner.
func (r *PredictionRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Prediction{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error
	return count, err
}

// CountByOwnerAndLabel returns the number of records with a given label for
// one owner.
func (r *PredictionRepository) CountByOwnerAndLabel(ctx context.Context, ownerID, label string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Prediction{}).
		Where("owner_id = ? AND label = ?", ownerID, label).
		Count(&count).Error
	return count, err
}

// RecentByOwner returns the owner's newest records, descending by creation
// time.
func (r *PredictionRepository) RecentByOwner(ctx context.Context, ownerID string, limit int) ([]*Prediction, error) {
	var preds []*Prediction
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&preds).Error
	return preds, err
}

// AllByOwner returns the owner's full history, descending by creation time.
func (r *PredictionRepository) AllByOwner(ctx context.Context, ownerID string) ([]*Prediction, error) {
	var preds []*Prediction
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&preds).Error
	return preds, err
}

func (r *PredictionRepository) executeWithRetry(ctx context.Context, operation, recordID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, recordID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, recordID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, recordID, ctx.Err())
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

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, recordID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, recordID, err)
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
