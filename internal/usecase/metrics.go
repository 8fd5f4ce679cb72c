package usecase

import "context"

// ScanSummary represents aggregated insights over stored prediction results.
// OrphanedResults counts rows never associated with a patient, left behind
// when a reference append failed after its result row was created.
type ScanSummary struct {
	TotalScans                  int64   `json:"total_scans"`
	MalignantScans              int64   `json:"malignant_scans"`
	MalignantRate               float64 `json:"malignant_rate"`
	AverageMalignantProbability float64 `json:"average_malignant_probability"`
	OrphanedResults             int64   `json:"orphaned_results"`
}

// GetScanSummary aggregates scan metrics from persisted prediction results.
func (uc *AnalyzeUseCase) GetScanSummary(ctx context.Context) (*ScanSummary, error) {
	aggregation, err := uc.results.AggregateScans(ctx)
	if err != nil {
		return nil, err
	}

	summary := &ScanSummary{
		TotalScans:                  aggregation.TotalCount,
		MalignantScans:              aggregation.MalignantCount,
		AverageMalignantProbability: aggregation.AverageMalignantProbability,
		OrphanedResults:             aggregation.OrphanCount,
	}

	if aggregation.TotalCount > 0 {
		summary.MalignantRate = float64(aggregation.MalignantCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
