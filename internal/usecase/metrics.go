package usecase

import "context"

// MetricsSummary represents aggregated comparison insights.
type MetricsSummary struct {
	TotalComparisons           int64   `json:"total_comparisons"`
	MatchedComparisons         int64   `json:"matched_comparisons"`
	MatchRate                  float64 `json:"match_rate"`
	MatchThreshold             float64 `json:"match_threshold"`
	AverageScore               float64 `json:"average_score"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates comparison metrics from persisted logs.
func (uc *ComparisonUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalComparisons:           aggregation.TotalCount,
		MatchedComparisons:         aggregation.MatchedCount,
		MatchThreshold:             uc.threshold,
		AverageScore:               aggregation.AverageScore,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
