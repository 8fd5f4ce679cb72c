package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Classification labels produced by the classifier.
const (
	ClassificationBenign    = 0
	ClassificationMalignant = 1
)

// PredictionResult is one classifier verdict for one submitted scan. Rows are
// created before they are associated with a patient; a row whose
// PatientRecordID is still NULL after its analyze call finished is an orphan
// left behind by an append failure.
type PredictionResult struct {
	ID                uint      `gorm:"primaryKey" json:"-"`
	ResultID          string    `gorm:"column:result_id;uniqueIndex;size:64" json:"resultId"`
	PatientRecordID   *uint     `gorm:"column:patient_record_id;index" json:"-"`
	Classification    int       `gorm:"column:classification" json:"classification_prediction"`
	Probabilities     []float64 `gorm:"column:probabilities;serializer:json" json:"classification_probabilities"`
	OriginalImage     string    `gorm:"column:original_image;type:text" json:"original_image_base64,omitempty"`
	SegmentationMask  string    `gorm:"column:segmentation_mask;type:text" json:"segmentation_mask_base64,omitempty"`
	OverlayImage      string    `gorm:"column:overlay_image;type:text" json:"overlay_image_base64,omitempty"`
	SegmentationShape []int     `gorm:"column:segmentation_shape;serializer:json" json:"segmentation_shape,omitempty"`
	Message           string    `gorm:"column:message;type:text" json:"message"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"createdAt"`
}

// TableName overrides the default table name.
func (PredictionResult) TableName() string {
	return "prediction_results"
}

// ScanAggregation holds raw aggregate figures over stored prediction results.
type ScanAggregation struct {
	TotalCount                  int64
	MalignantCount              int64
	AverageMalignantProbability float64
	OrphanCount                 int64
}

// PredictionRepository provides persistence APIs for prediction results.
type PredictionRepository struct {
	db *gorm.DB
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

// AutoMigrate ensures the prediction schema is available.
func (r *PredictionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&PredictionResult{})
}

// Create persists a new prediction result row.
func (r *PredictionRepository) Create(ctx context.Context, result *PredictionResult) error {
	return r.db.WithContext(ctx).Create(result).Error
}

// FindByResultID retrieves a prediction result by its shareable identifier.
func (r *PredictionRepository) FindByResultID(ctx context.Context, resultID string) (*PredictionResult, error) {
	var result PredictionResult
	if err := r.db.WithContext(ctx).First(&result, "result_id = ?", resultID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return &result, nil
}

// AggregateScans computes summary figures over all stored results, including
// the count of orphaned rows never associated with a patient.
func (r *PredictionRepository) AggregateScans(ctx context.Context) (*ScanAggregation, error) {
	var agg ScanAggregation
	db := r.db.WithContext(ctx).Model(&PredictionResult{})

	if err := db.Count(&agg.TotalCount).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&PredictionResult{}).
		Where("classification = ?", ClassificationMalignant).
		Count(&agg.MalignantCount).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&PredictionResult{}).
		Where("patient_record_id IS NULL").
		Count(&agg.OrphanCount).Error; err != nil {
		return nil, err
	}

	if agg.TotalCount > 0 {
		var rows []PredictionResult
		if err := r.db.WithContext(ctx).Select("probabilities").Find(&rows).Error; err != nil {
			return nil, err
		}
		var sum float64
		var counted int64
		for _, row := range rows {
			if len(row.Probabilities) > ClassificationMalignant {
				sum += row.Probabilities[ClassificationMalignant]
				counted++
			}
		}
		if counted > 0 {
			agg.AverageMalignantProbability = sum / float64(counted)
		}
	}
	return &agg, nil
}
