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

	"github.com/example/ocuscan/internal/inference"
	"github.com/example/ocuscan/internal/logging"
	"github.com/example/ocuscan/internal/repository"
)

// PatientStore defines the patient persistence operations needed by the use case.
type PatientStore interface {
	Create(ctx context.Context, patient *repository.PatientRecord) error
	FindByPatientID(ctx context.Context, patientID string) (*repository.PatientRecord, error)
	AppendPredictionReference(ctx context.Context, patientID uint, resultID string) (*repository.PatientRecord, error)
}

// ResultStore defines the prediction-result persistence operations needed by the use case.
type ResultStore interface {
	Create(ctx context.Context, result *repository.PredictionResult) error
	FindByResultID(ctx context.Context, resultID string) (*repository.PredictionResult, error)
	AggregateScans(ctx context.Context) (*repository.ScanAggregation, error)
}

// AnalyzeUseCase coordinates the analyze pipeline: patient lookup, classifier
// call, normalization, result persistence, and patient association.
type AnalyzeUseCase struct {
	patients       PatientStore
	results        ResultStore
	cache          Cache
	classifier     inference.Client
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalyzeUseCase constructs a new use case instance.
func NewAnalyzeUseCase(patients PatientStore, results ResultStore, cache Cache, classifier inference.Client, logger *zap.Logger) *AnalyzeUseCase {
	return &AnalyzeUseCase{
		patients:       patients,
		results:        results,
		cache:          cache,
		classifier:     classifier,
		logger:         logger.Named("analyze_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Analyze runs one scan through the full pipeline and returns the newly
// created prediction result together with the patient record carrying its
// complete, chronologically ordered scan history.
//
// The two durable writes (create result, append reference) are independent
// single-row transactions. If the append fails after the create succeeded the
// result row stays behind unreferenced; that case is logged distinctly and
// surfaces in the scan summary's orphan count.
func (uc *AnalyzeUseCase) Analyze(ctx context.Context, patientID string, image []byte, contentType string) (*repository.PredictionResult, *repository.PatientRecord, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze", requestID)

	patient, err := uc.patients.FindByPatientID(ctx, patientID)
	if err != nil {
		if errors.Is(err, repository.ErrPatientNotFound) {
			opLogger.Warn("patient not found", zap.String("patient_id", patientID))
			return nil, nil, err
		}
		wrapped := &PersistenceError{Op: "patient.lookup", Cause: err}
		opLogger.Error("patient lookup failed", zap.Error(wrapped))
		return nil, nil, wrapped
	}

	raw, err := uc.classifier.Classify(ctx, image, contentType)
	if err != nil {
		var malformed *inference.MalformedResponseError
		if errors.As(err, &malformed) {
			opLogger.Error("classifier returned undecodable payload", zap.Error(err))
			return nil, nil, &ValidationError{Reason: malformed.Error()}
		}
		opLogger.Error("classifier call failed", zap.Error(err))
		return nil, nil, err
	}

	result, err := Normalize(raw)
	if err != nil {
		opLogger.Error("classifier response failed normalization", zap.Error(err))
		return nil, nil, err
	}

	if err := uc.results.Create(ctx, result); err != nil {
		wrapped := &PersistenceError{Op: "result.create", Cause: err}
		opLogger.Error("failed to persist prediction result", zap.Error(wrapped))
		return nil, nil, wrapped
	}

	updated, err := uc.patients.AppendPredictionReference(ctx, patient.ID, result.ResultID)
	if err != nil {
		wrapped := &PersistenceError{Op: "patient.append_reference", Cause: err}
		opLogger.Error("orphaned prediction result: reference append failed after create",
			zap.Error(wrapped),
			zap.String("result_id", result.ResultID),
			zap.String("patient_id", patientID))
		return nil, nil, wrapped
	}

	uc.cacheResult(ctx, requestID, result, opLogger)

	return result, updated, nil
}

// GetResult retrieves a prediction result by id, preferring the cache.
func (uc *AnalyzeUseCase) GetResult(ctx context.Context, resultID string) (*repository.PredictionResult, error) {
	cacheKey := resultCacheKey(resultID)
	if cached, err := uc.withRedisGet(ctx, resultID, "cache.get.result", cacheKey); err == nil {
		var result repository.PredictionResult
		if err := json.Unmarshal([]byte(cached), &result); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", resultID).Warn("failed to decode cached result", zap.Error(err))
		} else {
			return &result, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", resultID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.results.FindByResultID(ctx, resultID)
}

// cacheResult stores the composed result for fast read-back. The cache is not
// one of the pipeline's durable writes, so failures only warn.
func (uc *AnalyzeUseCase) cacheResult(ctx context.Context, requestID string, result *repository.PredictionResult, opLogger *zap.Logger) {
	serialized, err := json.Marshal(result)
	if err != nil {
		opLogger.Warn("failed to serialize result for cache", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultCacheKey(result.ResultID), string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Warn("failed to cache prediction result", zap.Error(err))
	}
}

func resultCacheKey(resultID string) string {
	return fmt.Sprintf("prediction:%s", resultID)
}

func (uc *AnalyzeUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
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
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AnalyzeUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
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
