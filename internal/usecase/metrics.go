package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalTasks                 int64   `json:"total_tasks"`
	ValidTasks                 int64   `json:"valid_tasks"`
	ValidRate                  float64 `json:"valid_rate"`
	AverageCardFaceScore       float64 `json:"average_card_face_score"`
	AveragePersonFaceScore     float64 `json:"average_person_face_score"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates verification metrics from persisted records.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalTasks:                 aggregation.TotalCount,
		ValidTasks:                 aggregation.ValidCount,
		AverageCardFaceScore:       aggregation.AverageCardScore,
		AveragePersonFaceScore:     aggregation.AveragePersonScore,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.ValidRate = float64(aggregation.ValidCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
