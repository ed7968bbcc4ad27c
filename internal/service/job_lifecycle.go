package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/qs3c/carousel_go_server/internal/model"
	"github.com/qs3c/carousel_go_server/internal/pkg/apperr"
)

// UpdateJobStatus 变更任务状态，progress 为 nil 时保留原进度。
// 首次进入 processing 时写入 started_at；进入终态时写入 completed_at，完成时进度强制为 100。
// 结果和错误需要随后用 UpdateJobResult / UpdateJobError 补写
func (s *JobService) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, progress *int, opts ...UpdateOption) (*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.UpdateJobStatus")
	defer span.End()

	if !status.Valid() {
		return nil, ErrInvalidStatus.WithDetails(map[string]interface{}{"status": string(status)})
	}

	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(job.Status, status) {
		return nil, apperr.InvalidTransition(string(job.Status), string(status))
	}

	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := s.now()
	fields := map[string]interface{}{
		"status":     string(status),
		"updated_at": now,
	}
	if progress != nil {
		if err := checkProgress(job, status, *progress); err != nil {
			return nil, err
		}
		fields["progress_percent"] = *progress
	}
	if o.message != nil {
		fields["progress_message"] = *o.message
	}

	switch status {
	case model.JobStatusProcessing:
		if job.StartedAt == nil {
			fields["started_at"] = now
		}
	case model.JobStatusCompleted:
		fields["progress_percent"] = 100
		fields["completed_at"] = now
	case model.JobStatusFailed:
		fields["completed_at"] = now
	}

	return s.applyGuarded(ctx, job, fields)
}

// UpdateJobProgress 只更新处理中任务的进度，不改变状态
func (s *JobService) UpdateJobProgress(ctx context.Context, id string, percent int, message string) (*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.UpdateJobProgress")
	defer span.End()

	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusProcessing {
		return nil, ErrJobNotProcessing
	}
	if err := checkProgress(job, model.JobStatusProcessing, percent); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"progress_percent": percent,
		"updated_at":       s.now(),
	}
	if message != "" {
		fields["progress_message"] = message
	}
	return s.applyGuarded(ctx, job, fields)
}

// UpdateJobResult 给已完成但还没有结果的任务写入结果，不改变状态。
// 结果只能出现在 completed 任务上，一次写入结果和状态用 CompleteJob
func (s *JobService) UpdateJobResult(ctx context.Context, id string, result json.RawMessage) (*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.UpdateJobResult")
	defer span.End()

	if err := checkResult(result); err != nil {
		return nil, err
	}

	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case job.Status == model.JobStatusFailed, job.HasResult():
		return nil, ErrJobOutcomeRecorded
	case job.Status != model.JobStatusCompleted:
		return nil, ErrJobNotTerminal
	}

	return s.attachOutcome(ctx, job, "result", datatypes.JSON(result))
}

// UpdateJobError 给已失败但还没有错误描述的任务写入错误，不改变状态
func (s *JobService) UpdateJobError(ctx context.Context, id string, jobErr *model.JobError) (*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.UpdateJobError")
	defer span.End()

	data, err := encodeJobError(jobErr)
	if err != nil {
		return nil, err
	}

	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case job.Status == model.JobStatusCompleted, job.HasError():
		return nil, ErrJobOutcomeRecorded
	case job.Status != model.JobStatusFailed:
		return nil, ErrJobNotTerminal
	}

	return s.attachOutcome(ctx, job, "error", data)
}

// CompleteJob 一次写入结果并置为 completed
func (s *JobService) CompleteJob(ctx context.Context, id string, result json.RawMessage) (*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.CompleteJob")
	defer span.End()

	if err := checkResult(result); err != nil {
		return nil, err
	}

	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(job.Status, model.JobStatusCompleted) {
		return nil, apperr.InvalidTransition(string(job.Status), string(model.JobStatusCompleted))
	}

	now := s.now()
	updated, err := s.applyGuarded(ctx, job, map[string]interface{}{
		"status":           string(model.JobStatusCompleted),
		"result":           datatypes.JSON(result),
		"progress_percent": 100,
		"completed_at":     now,
		"updated_at":       now,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("job completed", "job_id", id, "worker_id", job.WorkerID)
	return updated, nil
}

// FailJob 一次写入错误并置为 failed
func (s *JobService) FailJob(ctx context.Context, id string, jobErr *model.JobError) (*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.FailJob")
	defer span.End()

	data, err := encodeJobError(jobErr)
	if err != nil {
		return nil, err
	}

	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(job.Status, model.JobStatusFailed) {
		return nil, apperr.InvalidTransition(string(job.Status), string(model.JobStatusFailed))
	}

	now := s.now()
	updated, err := s.applyGuarded(ctx, job, map[string]interface{}{
		"status":       string(model.JobStatusFailed),
		"error":        data,
		"completed_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn("job failed", "job_id", id, "code", jobErr.Code, "reason", jobErr.Message)
	return updated, nil
}

// FailStaleJobs 把超过 staleAfter 没有任何更新的处理中任务置为 failed，返回处理条数
func (s *JobService) FailStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.FailStaleJobs")
	defer span.End()

	if staleAfter <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-staleAfter)
	jobs, err := s.jobRepo.ListStale(ctx, cutoff, staleBatchSize)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, job := range jobs {
		data, err := encodeJobError(&model.JobError{
			Message: "任务处理超时，请重新提交",
			Code:    "stale_job",
			Details: map[string]interface{}{
				"worker_id":           job.WorkerID,
				"stale_after_seconds": int(staleAfter.Seconds()),
			},
		})
		if err != nil {
			return failed, err
		}

		now := s.now()
		ok, err := s.jobRepo.UpdateIfStale(ctx, job.ID, cutoff, map[string]interface{}{
			"status":       string(model.JobStatusFailed),
			"error":        data,
			"completed_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return failed, err
		}
		if !ok {
			continue // 期间有新的进度上报
		}
		failed++
		s.log.Warn("stale job failed", "job_id", job.ID, "worker_id", job.WorkerID, "last_update", job.UpdatedAt)

		if updated, err := s.jobRepo.GetByID(ctx, job.ID); err == nil {
			s.publish(ctx, updated)
		}
	}
	return failed, nil
}

// applyGuarded 以读取时的状态为条件写入，状态在此期间被改动则返回冲突
func (s *JobService) applyGuarded(ctx context.Context, job *model.GenerationJob, fields map[string]interface{}) (*model.GenerationJob, error) {
	ok, err := s.jobRepo.UpdateWhereStatus(ctx, job.ID, []model.JobStatus{job.Status}, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.jobRepo.GetByID(ctx, job.ID); err != nil {
			return nil, err
		}
		return nil, ErrJobConcurrentUpdate
	}

	updated, err := s.jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated)
	return updated, nil
}

// attachOutcome 补写 result/error，并发补写时只有第一次生效
func (s *JobService) attachOutcome(ctx context.Context, job *model.GenerationJob, column string, value datatypes.JSON) (*model.GenerationJob, error) {
	ok, err := s.jobRepo.UpdateIfOutcomeEmpty(ctx, job.ID, job.Status, column, map[string]interface{}{
		column:       value,
		"updated_at": s.now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.jobRepo.GetByID(ctx, job.ID); err != nil {
			return nil, err
		}
		return nil, ErrJobOutcomeRecorded
	}

	updated, err := s.jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated)
	return updated, nil
}

func checkProgress(job *model.GenerationJob, target model.JobStatus, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidProgress.WithDetails(map[string]interface{}{"progress_percent": percent})
	}
	if target == model.JobStatusCompleted {
		return nil
	}
	if percent == 100 {
		return ErrProgressReserved
	}
	if target == model.JobStatusProcessing && percent < job.ProgressPercent {
		return ErrProgressRegressed.WithDetails(map[string]interface{}{
			"current":  job.ProgressPercent,
			"proposed": percent,
		})
	}
	return nil
}

func checkResult(result json.RawMessage) error {
	trimmed := strings.TrimSpace(string(result))
	if trimmed == "" || trimmed == "null" || !json.Valid(result) {
		return ErrInvalidResult
	}
	return nil
}

func encodeJobError(jobErr *model.JobError) (datatypes.JSON, error) {
	if jobErr == nil || strings.TrimSpace(jobErr.Message) == "" {
		return nil, ErrErrorMessageRequired
	}
	data, err := json.Marshal(jobErr)
	if err != nil {
		return nil, apperr.Validation("invalid_error_details", "错误详情无法序列化")
	}
	return datatypes.JSON(data), nil
}
