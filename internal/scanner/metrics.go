package scanner

import "context"

// MetricsSummary represents aggregated scan insights.
type MetricsSummary struct {
	TotalScans        int64   `json:"total_scans"`
	TotalLabels       int64   `json:"total_labels"`
	AverageLabelCount float64 `json:"average_label_count"`
}

// GetMetricsSummary aggregates scan metrics from persisted records.
func (s *Service) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}

	aggregation, err := s.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	return &MetricsSummary{
		TotalScans:        aggregation.TotalScans,
		TotalLabels:       aggregation.TotalLabels,
		AverageLabelCount: aggregation.AverageLabelCount,
	}, nil
}
