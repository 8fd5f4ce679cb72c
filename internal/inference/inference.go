package inference

import (
	"context"
	"fmt"
)

// RawResponse mirrors the JSON body returned by the classifier's /predict endpoint.
// Pointer and slice fields distinguish absent values from zero values so the
// normalizer can reject incomplete payloads.
type RawResponse struct {
	ClassificationPrediction    *int      `json:"classification_prediction"`
	ClassificationProbabilities []float64 `json:"classification_probabilities"`
	OriginalImageBase64         string    `json:"original_image_base64"`
	SegmentationMaskBase64      string    `json:"segmentation_mask_base64"`
	OverlayImageBase64          string    `json:"overlay_image_base64"`
	SegmentationShape           []int     `json:"segmentation_shape"`
	Message                     string    `json:"message"`
}

// Client exposes the subset of the classifier service used by the analyze flow.
type Client interface {
	Classify(ctx context.Context, image []byte, contentType string) (*RawResponse, error)
}

// UnavailableError reports that the classifier could not be reached or did not
// return a successful response: connection failures, timeouts, and non-2xx
// statuses all map here.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("classifier unavailable: %v", e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// MalformedResponseError reports that the classifier answered 2xx but the body
// could not be decoded.
type MalformedResponseError struct {
	Cause error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed classifier response: %v", e.Cause)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}
