package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/qs3c/carousel_go_server/config"
	"github.com/qs3c/carousel_go_server/internal/model"
	"github.com/qs3c/carousel_go_server/internal/model/dto"
	"github.com/qs3c/carousel_go_server/internal/pkg/apperr"
	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
	"github.com/qs3c/carousel_go_server/internal/pkg/pubsub"
	"github.com/qs3c/carousel_go_server/internal/pkg/queue"
	"github.com/qs3c/carousel_go_server/internal/repository"
)

const (
	defaultMaxRetries = 3
	claimBatchSize    = 20
	staleBatchSize    = 100
)

var (
	ErrUnknownJobType       = apperr.Validation("unknown_job_type", "不支持的任务类型")
	ErrInvalidPriority      = apperr.Validation("invalid_priority", "无效的任务优先级")
	ErrInvalidPayload       = apperr.Validation("invalid_payload", "payload 必须是合法的 JSON")
	ErrInvalidMaxRetries    = apperr.Validation("invalid_max_retries", "max_retries 不能为负数")
	ErrInvalidStatus        = apperr.Validation("invalid_status", "无效的任务状态")
	ErrInvalidProgress      = apperr.Validation("invalid_progress", "进度必须在 0-100 之间")
	ErrProgressReserved     = apperr.Validation("progress_reserved", "进度 100 只能在任务完成时设置")
	ErrProgressRegressed    = apperr.Validation("progress_regressed", "进度不能回退")
	ErrInvalidResult        = apperr.Validation("invalid_result", "result 必须是合法的 JSON")
	ErrErrorMessageRequired = apperr.Validation("error_message_required", "错误信息不能为空")
	ErrWorkerIDRequired     = apperr.Validation("worker_id_required", "worker_id 不能为空")

	ErrJobNotProcessing    = apperr.Conflict("job_not_processing", "任务不在处理中")
	ErrJobNotDue           = apperr.Conflict("job_not_due", "任务尚未到计划执行时间")
	ErrJobAlreadyClaimed   = apperr.Conflict("job_already_claimed", "任务已被其他进程领取")
	ErrJobNotTerminal      = apperr.Conflict("job_not_terminal", "任务尚未结束，不能写入结果或错误")
	ErrJobOutcomeRecorded  = apperr.Conflict("job_outcome_recorded", "任务结果已记录，不可修改")
	ErrJobConcurrentUpdate = apperr.Conflict("concurrent_update", "任务已被并发修改，请重试")
)

// Dispatcher 新任务的投递通道（Redis 队列）。投递只是提示，数据库才是准
type Dispatcher interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

// Notifier 任务变更通知（Redis Pub/Sub）
type Notifier interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// JobService 生成任务的生命周期管理。无状态，可以多实例共享同一个存储
type JobService struct {
	jobRepo    *repository.JobRepository
	dispatcher Dispatcher
	notifier   Notifier
	cfg        *config.Config
	log        *logger.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func NewJobService(
	jobRepo *repository.JobRepository,
	dispatcher Dispatcher,
	notifier Notifier,
	cfg *config.Config,
	log *logger.Logger,
) *JobService {
	if log == nil {
		log = logger.NewNop()
	}
	return &JobService{
		jobRepo:    jobRepo,
		dispatcher: dispatcher,
		notifier:   notifier,
		cfg:        cfg,
		log:        log.With("service", "JobService"),
		tracer:     otel.Tracer("github.com/qs3c/carousel_go_server/internal/service"),
		now:        time.Now,
	}
}

// UpdateOption 状态更新的可选参数
type UpdateOption func(*updateOptions)

type updateOptions struct {
	message *string
}

// WithProgressMessage 同时更新进度描述
func WithProgressMessage(message string) UpdateOption {
	return func(o *updateOptions) {
		o.message = &message
	}
}

// CreateJob 创建任务，初始为 pending，进度 0
func (s *JobService) CreateJob(ctx context.Context, req *dto.CreateJobRequest) (*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.CreateJob")
	defer span.End()

	if req == nil || strings.TrimSpace(req.UserID) == "" {
		return nil, repository.ErrJobUserRequired
	}

	jobType := model.JobType(strings.TrimSpace(req.JobType))
	if !jobType.Valid() {
		return nil, ErrUnknownJobType.WithDetails(map[string]interface{}{"job_type": req.JobType})
	}

	priority := model.JobPriority(strings.ToLower(strings.TrimSpace(req.Priority)))
	if priority == "" {
		priority = model.PriorityNormal
	}
	if !priority.Valid() {
		return nil, ErrInvalidPriority.WithDetails(map[string]interface{}{"priority": req.Priority})
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}

	maxRetries := s.defaultMaxRetries()
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, ErrInvalidMaxRetries
		}
		maxRetries = *req.MaxRetries
	}

	now := s.now()
	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = *req.ScheduledAt
	}

	job := &model.GenerationJob{
		ID:              uuid.NewString(),
		UserID:          strings.TrimSpace(req.UserID),
		ClerkUserID:     strings.TrimSpace(req.ClerkUserID),
		JobType:         jobType,
		Status:          model.JobStatusPending,
		Priority:        priority,
		Payload:         datatypes.JSON(payload),
		ProgressPercent: 0,
		MaxRetries:      maxRetries,
		ScheduledAt:     &scheduledAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.jobRepo.Insert(ctx, job); err != nil {
		return nil, err
	}

	// 计划在未来执行的任务不立即投递，由工作进程轮询数据库领取
	if !scheduledAt.After(now) {
		s.dispatch(ctx, job)
	}
	s.publish(ctx, job)

	s.log.Info("job created", "job_id", job.ID, "job_type", job.JobType, "priority", job.Priority)
	return job, nil
}

// GetJobByID 获取任务详情
func (s *JobService) GetJobByID(ctx context.Context, id string) (*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.GetJobByID")
	defer span.End()

	return s.jobRepo.GetByID(ctx, id)
}

// GetUserJobs 获取用户的全部任务，最新的在前
func (s *JobService) GetUserJobs(ctx context.Context, userID string) ([]*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.GetUserJobs")
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, repository.ErrJobUserRequired
	}
	return s.jobRepo.ListByUser(ctx, userID)
}

// GetPendingJobs 按出队顺序返回待处理任务。只读，不做领取
func (s *JobService) GetPendingJobs(ctx context.Context, limit int) ([]*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.GetPendingJobs")
	defer span.End()

	return s.jobRepo.ListByStatus(ctx, model.JobStatusPending, limit)
}

// ClaimJob 原子地把 pending 任务置为 processing，并发领取时只有一个成功
func (s *JobService) ClaimJob(ctx context.Context, id, workerID string) (*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.ClaimJob")
	defer span.End()

	if strings.TrimSpace(workerID) == "" {
		return nil, ErrWorkerIDRequired
	}

	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusPending {
		return nil, ErrJobAlreadyClaimed
	}
	now := s.now()
	if job.ScheduledAt != nil && job.ScheduledAt.After(now) {
		return nil, ErrJobNotDue
	}

	ok, err := s.jobRepo.UpdateWhereStatus(ctx, id, []model.JobStatus{model.JobStatusPending}, map[string]interface{}{
		"status":     string(model.JobStatusProcessing),
		"worker_id":  workerID,
		"started_at": now,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.jobRepo.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrJobAlreadyClaimed
	}

	claimed, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, claimed)
	s.log.Info("job claimed", "job_id", id, "worker_id", workerID)
	return claimed, nil
}

// ClaimNextJob 按出队顺序领取第一个可执行的任务，没有任务时返回 nil, nil
func (s *JobService) ClaimNextJob(ctx context.Context, workerID string) (*model.GenerationJob, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.ClaimNextJob")
	defer span.End()

	candidates, err := s.jobRepo.ListByStatus(ctx, model.JobStatusPending, claimBatchSize)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, candidate := range candidates {
		if candidate.ScheduledAt != nil && candidate.ScheduledAt.After(now) {
			continue
		}
		job, err := s.ClaimJob(ctx, candidate.ID, workerID)
		if err == nil {
			return job, nil
		}
		if apperr.IsKind(err, apperr.KindConflict) || apperr.IsKind(err, apperr.KindNotFound) {
			continue // 被其他进程抢先领取或已删除
		}
		return nil, err
	}
	return nil, nil
}

// DeleteJob 删除任务
func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "JobService.DeleteJob")
	defer span.End()

	if err := s.jobRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("job deleted", "job_id", id)
	return nil
}

func (s *JobService) defaultMaxRetries() int {
	if s.cfg != nil && s.cfg.Queue.DefaultMaxRetries > 0 {
		return s.cfg.Queue.DefaultMaxRetries
	}
	return defaultMaxRetries
}

// dispatch 投递失败只记录日志：任务已落库，工作进程会从数据库兜底领取
func (s *JobService) dispatch(ctx context.Context, job *model.GenerationJob) {
	if s.dispatcher == nil {
		return
	}
	msg := &queue.JobMessage{
		JobID:    job.ID,
		UserID:   job.UserID,
		JobType:  string(job.JobType),
		Priority: string(job.Priority),
	}
	if err := s.dispatcher.Push(ctx, msg); err != nil {
		s.log.Warn("failed to dispatch job", "job_id", job.ID, "error", err)
	}
}

func (s *JobService) publish(ctx context.Context, job *model.GenerationJob) {
	if s.notifier == nil {
		return
	}
	msg := &pubsub.ProgressMessage{
		UserID:   job.UserID,
		JobID:    job.ID,
		JobType:  string(job.JobType),
		Status:   string(job.Status),
		Progress: job.ProgressPercent,
		Message:  job.ProgressMessage,
	}
	if job.Status == model.JobStatusCompleted {
		msg.Step = pubsub.StepDone
	}
	if info, err := job.ErrorInfo(); err == nil && info != nil {
		msg.Error = info.Message
	}
	if err := s.notifier.PublishProgress(ctx, msg); err != nil {
		s.log.Warn("failed to publish job progress", "job_id", job.ID, "error", err)
	}
}
