package service

import (
	"context"
	"time"

	"github.com/litlabs/quota-gateway/internal/repository"
	"github.com/google/uuid"
)

type AnalyticsService struct {
	logs  *repository.RequestLogRepository
	usage *repository.UsageRepository
}

func NewAnalyticsService(logs *repository.RequestLogRepository, usage *repository.UsageRepository) *AnalyticsService {
	return &AnalyticsService{
		logs:  logs,
		usage: usage,
	}
}

// Holds traffic and enforcement summary data
type TrafficSummary struct {
	TotalRequests int64                    `json:"total_requests"`
	RateLimited   int64                    `json:"rate_limited"`
	QuotaDenied   int64                    `json:"quota_denied"`
	TopEndpoints  []map[string]interface{} `json:"top_endpoints"`
}

// Retrieves a traffic summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*TrafficSummary, error) {
	summary := &TrafficSummary{}

	totalRequests, err := s.logs.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = totalRequests

	if totalRequests == 0 {
		return summary, nil
	}

	if summary.RateLimited, err = s.logs.CountRateLimited(ctx, from, to); err != nil {
		return nil, err
	}

	if summary.QuotaDenied, err = s.logs.CountQuotaDenied(ctx, from, to); err != nil {
		return nil, err
	}

	if summary.TopEndpoints, err = s.logs.GetTopEndpoints(ctx, from, to, 10); err != nil {
		return nil, err
	}

	return summary, nil
}

// Retrieves the request count for a specific API key
func (s *AnalyticsService) GetAPIKeyRequestCount(ctx context.Context, apiKeyID uuid.UUID, from, to time.Time) (int64, error) {
	return s.logs.CountByAPIKey(ctx, apiKeyID, from, to)
}

// Retrieves lifetime usage totals per operation kind for a user
func (s *AnalyticsService) GetUserTotals(ctx context.Context, userID string) (map[string]int, error) {
	return s.usage.TotalsByKind(ctx, userID)
}
