package usecase

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/ocuscan/internal/inference"
	"github.com/example/ocuscan/internal/repository"
)

// numClasses is the size of the classifier's output space: benign, malignant.
const numClasses = 2

// Normalize validates a raw classifier response and reshapes it into a
// PredictionResult ready for persistence. It performs no I/O; the result id
// and creation timestamp are assigned here, everything else is a pure
// function of the input. A malformed payload yields a ValidationError and
// nothing else.
func Normalize(raw *inference.RawResponse) (*repository.PredictionResult, error) {
	if raw == nil {
		return nil, &ValidationError{Reason: "classifier response is empty"}
	}
	if raw.ClassificationPrediction == nil {
		return nil, &ValidationError{Reason: "classifier response missing classification_prediction"}
	}
	if raw.ClassificationProbabilities == nil {
		return nil, &ValidationError{Reason: "classifier response missing classification_probabilities"}
	}
	if len(raw.ClassificationProbabilities) != numClasses {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("expected %d classification probabilities, got %d", numClasses, len(raw.ClassificationProbabilities)),
		}
	}
	for i, p := range raw.ClassificationProbabilities {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 1 {
			return nil, &ValidationError{
				Reason: fmt.Sprintf("classification probability %d out of range: %v", i, p),
			}
		}
	}
	label := *raw.ClassificationPrediction
	if label < 0 || label >= len(raw.ClassificationProbabilities) {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("classification_prediction %d does not index the probability vector", label),
		}
	}
	for i, dim := range raw.SegmentationShape {
		if dim < 0 {
			return nil, &ValidationError{
				Reason: fmt.Sprintf("segmentation_shape dimension %d is negative: %d", i, dim),
			}
		}
	}

	return &repository.PredictionResult{
		ResultID:          uuid.NewString(),
		Classification:    label,
		Probabilities:     append([]float64(nil), raw.ClassificationProbabilities...),
		OriginalImage:     raw.OriginalImageBase64,
		SegmentationMask:  raw.SegmentationMaskBase64,
		OverlayImage:      raw.OverlayImageBase64,
		SegmentationShape: append([]int(nil), raw.SegmentationShape...),
		Message:           raw.Message,
		CreatedAt:         time.Now().UTC(),
	}, nil
}
