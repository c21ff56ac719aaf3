package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/chestscan/internal/classifier"
	"github.com/example/chestscan/internal/logging"
	"github.com/example/chestscan/internal/notify"
	"github.com/example/chestscan/internal/repository"
)

// PredictionStore defines the persistence operations needed by the pipeline.
type PredictionStore interface {
	Save(ctx context.Context, pred *repository.Prediction) error
	FindByRecordID(ctx context.Context, recordID string) (*repository.Prediction, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
	CountByOwnerAndLabel(ctx context.Context, ownerID, label string) (int64, error)
	RecentByOwner(ctx context.Context, ownerID string, limit int) ([]*repository.Prediction, error)
	AllByOwner(ctx context.Context, ownerID string) ([]*repository.Prediction, error)
}

// ImageStore persists raw uploads; the stored name must be retrievable after
// a successful write.
type ImageStore interface {
	Save(name string, data []byte) (string, error)
}

// AccountDirectory resolves the owner account for patient-field defaulting.
type AccountDirectory interface {
	FindUserByID(ctx context.Context, id string) (*repository.User, error)
}

// SubmitRequest is the statically bound upload form: the image is required,
// the patient contact fields are optional.
type SubmitRequest struct {
	FileName     string
	ImageBytes   []byte
	PatientName  string
	PatientEmail string
}

// PredictionUseCase orchestrates one upload-and-classify request into a
// persisted record plus the scoped read queries over those records.
type PredictionUseCase struct {
	store          PredictionStore
	accounts       AccountDirectory
	images         ImageStore
	cache          Cache
	classifier     classifier.Client
	sender         notify.Sender
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedPrediction struct {
	RecordID     string    `json:"record_id"`
	OwnerID      string    `json:"owner_id"`
	ImageName    string    `json:"image_name"`
	PatientName  string    `json:"patient_name"`
	PatientEmail string    `json:"patient_email"`
	Label        string    `json:"label"`
	Probability  float32   `json:"probability"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewPredictionUseCase constructs a new use case instance.
func NewPredictionUseCase(
	store PredictionStore,
	accounts AccountDirectory,
	images ImageStore,
	cache Cache,
	clf classifier.Client,
	sender notify.Sender,
	logger *zap.Logger,
) *PredictionUseCase {
	return &PredictionUseCase{
		store:          store,
		accounts:       accounts,
		images:         images,
		cache:          cache,
		classifier:     clf,
		sender:         sender,
		logger:         logger.Named("prediction_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Submit stores the raw image, classifies it, persists exactly one record and
// attempts a best-effort notification. Classification and persistence
// failures abort the request with no record written; notification and cache
// failures are logged and discarded.
func (uc *PredictionUseCase) Submit(ctx context.Context, ownerID string, req SubmitRequest) (*repository.Prediction, error) {
	recordID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.submit", recordID)

	storedName, err := uc.images.Save(req.FileName, req.ImageBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.store_image", recordID, err)
		opLogger.Error("failed to store uploaded image", zap.Error(wrapped))
		return nil, wrapped
	}

	result, err := uc.classifier.Classify(ctx, req.ImageBytes)
	if err != nil {
		if errors.Is(err, classifier.ErrInvalidImage) {
			opLogger.Warn("rejected undecodable upload", zap.Error(err))
			return nil, err
		}
		wrapped := logging.NewOperationError("usecase.classify", recordID, err)
		opLogger.Error("classification failed", zap.Error(wrapped))
		return nil, wrapped
	}

	patientName, patientEmail := uc.defaultPatientFields(ctx, ownerID, req.PatientName, req.PatientEmail, opLogger)

	pred := &repository.Prediction{
		RecordID:     recordID,
		OwnerID:      ownerID,
		ImageName:    storedName,
		PatientName:  patientName,
		PatientEmail: patientEmail,
		Label:        result.Label,
		Probability:  result.Probability,
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.store.Save(ctx, pred); err != nil {
		wrapped := logging.NewOperationError("usecase.save_prediction", recordID, err)
		opLogger.Error("failed to persist prediction record", zap.Error(wrapped))
		return nil, wrapped
	}

	uc.cacheRecord(ctx, pred, opLogger)

	if pred.PatientEmail != "" {
		if err := uc.notifyPatient(ctx, pred); err != nil {
			opLogger.Warn("result notification failed", zap.Error(err))
		} else {
			opLogger.Info("result notification sent", zap.String("label", pred.Label))
		}
	}

	return pred, nil
}

// GetRecord returns one record with an ownership check: the caller must be
// the owner or staff.
func (uc *PredictionUseCase) GetRecord(ctx context.Context, callerID string, staff bool, recordID string) (*repository.Prediction, error) {
	if pred := uc.lookupCached(ctx, recordID); pred != nil {
		return authorizeRecord(pred, callerID, staff)
	}

	pred, err := uc.store.FindByRecordID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return authorizeRecord(pred, callerID, staff)
}

// Owner resolves the account behind an owner id, for report headers.
func (uc *PredictionUseCase) Owner(ctx context.Context, ownerID string) (*repository.User, error) {
	return uc.accounts.FindUserByID(ctx, ownerID)
}

// History returns the caller's full record history, newest first.
func (uc *PredictionUseCase) History(ctx context.Context, ownerID string) ([]*repository.Prediction, error) {
	return uc.store.AllByOwner(ctx, ownerID)
}

func authorizeRecord(pred *repository.Prediction, callerID string, staff bool) (*repository.Prediction, error) {
	if pred.OwnerID != callerID && !staff {
		return nil, ErrForbidden
	}
	return pred, nil
}

func (uc *PredictionUseCase) defaultPatientFields(ctx context.Context, ownerID, name, email string, opLogger *zap.Logger) (string, string) {
	if name != "" && email != "" {
		return name, email
	}

	owner, err := uc.accounts.FindUserByID(ctx, ownerID)
	if err != nil {
		// Leave the fields as supplied; both may remain empty.
		opLogger.Warn("owner lookup for patient defaults failed", zap.Error(err))
		return name, email
	}

	if name == "" {
		name = owner.FullName
		if name == "" {
			name = owner.Username
		}
	}
	if email == "" {
		email = owner.Email
	}
	return name, email
}

// notifyPatient delivers the result to the patient contact. The outcome is
// returned for the caller to log and discard; it never rolls back the record.
func (uc *PredictionUseCase) notifyPatient(ctx context.Context, pred *repository.Prediction) error {
	msg, err := notify.BuildResultMessage(pred.PatientEmail, pred.PatientName, pred.Label, pred.Probability)
	if err != nil {
		return err
	}
	return uc.sender.Send(ctx, msg)
}

func (uc *PredictionUseCase) cacheRecord(ctx context.Context, pred *repository.Prediction, opLogger *zap.Logger) {
	cached := cachedPrediction{
		RecordID:     pred.RecordID,
		OwnerID:      pred.OwnerID,
		ImageName:    pred.ImageName,
		PatientName:  pred.PatientName,
		PatientEmail: pred.PatientEmail,
		Label:        pred.Label,
		Probability:  pred.Probability,
		CreatedAt:    pred.CreatedAt,
	}

	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Warn("failed to serialize record for cache", zap.Error(err))
		return
	}

	if err := uc.withRedisRetry(ctx, pred.RecordID, "cache.set.record", func() error {
		return uc.cache.Set(ctx, recordCacheKey(pred.RecordID), string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Warn("failed to cache record", zap.Error(err))
	}
}

func (uc *PredictionUseCase) lookupCached(ctx context.Context, recordID string) *repository.Prediction {
	cached, err := uc.withRedisGet(ctx, recordID, "cache.get.record", recordCacheKey(recordID))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "usecase.get_record", recordID).Warn("failed to read cache", zap.Error(err))
		}
		return nil
	}

	var payload cachedPrediction
	if err := json.Unmarshal([]byte(cached), &payload); err != nil {
		logging.WithOperation(uc.logger, "usecase.get_record", recordID).Warn("failed to decode cached record", zap.Error(err))
		return nil
	}

	return &repository.Prediction{
		RecordID:     payload.RecordID,
		OwnerID:      payload.OwnerID,
		ImageName:    payload.ImageName,
		PatientName:  payload.PatientName,
		PatientEmail: payload.PatientEmail,
		Label:        payload.Label,
		Probability:  payload.Probability,
		CreatedAt:    payload.CreatedAt,
	}
}

func recordCacheKey(recordID string) string {
	return fmt.Sprintf("prediction:%s", recordID)
}

func (uc *PredictionUseCase) withRedisRetry(ctx context.Context, recordID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, recordID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, recordID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, recordID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, recordID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, recordID, err)
}

func (uc *PredictionUseCase) withRedisGet(ctx context.Context, recordID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, recordID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
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
