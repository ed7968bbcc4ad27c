package service

import (
	"context"
	"strings"

	"github.com/qs3c/carousel_go_server/internal/model"
	"github.com/qs3c/carousel_go_server/internal/model/dto"
	"github.com/qs3c/carousel_go_server/internal/repository"
)

// GetQueueStatistics 全局任务统计
func (s *JobService) GetQueueStatistics(ctx context.Context) (*dto.JobStatistics, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.GetQueueStatistics")
	defer span.End()

	return s.statistics(ctx, "")
}

// GetUserStatistics 单个用户的任务统计
func (s *JobService) GetUserStatistics(ctx context.Context, userID string) (*dto.JobStatistics, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.GetUserStatistics")
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, repository.ErrJobUserRequired
	}
	return s.statistics(ctx, userID)
}

func (s *JobService) statistics(ctx context.Context, userID string) (*dto.JobStatistics, error) {
	counts, err := s.jobRepo.CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &dto.JobStatistics{
		PendingJobs:    counts[model.JobStatusPending],
		ProcessingJobs: counts[model.JobStatusProcessing],
		CompletedJobs:  counts[model.JobStatusCompleted],
		FailedJobs:     counts[model.JobStatusFailed],
	}
	stats.TotalJobs = stats.PendingJobs + stats.ProcessingJobs + stats.CompletedJobs + stats.FailedJobs
	return stats, nil
}
