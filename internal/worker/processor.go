package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qs3c/carousel_go_server/internal/model"
	"github.com/qs3c/carousel_go_server/internal/pkg/apperr"
	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
	"github.com/qs3c/carousel_go_server/internal/pkg/pubsub"
	"github.com/qs3c/carousel_go_server/internal/pkg/queue"
)

const terminalWriteTimeout = 10 * time.Second

// JobLifecycle 工作进程需要的任务操作，由 service.JobService 实现
type JobLifecycle interface {
	ClaimJob(ctx context.Context, id, workerID string) (*model.GenerationJob, error)
	ClaimNextJob(ctx context.Context, workerID string) (*model.GenerationJob, error)
	UpdateJobProgress(ctx context.Context, id string, percent int, message string) (*model.GenerationJob, error)
	CompleteJob(ctx context.Context, id string, result json.RawMessage) (*model.GenerationJob, error)
	FailJob(ctx context.Context, id string, jobErr *model.JobError) (*model.GenerationJob, error)
}

// ProgressFunc 生成器上报自身进度，percent 为 0-100
type ProgressFunc func(percent int, message string)

// Generator 外部 AI 生成服务
type Generator interface {
	Generate(ctx context.Context, job *model.GenerationJob, progress ProgressFunc) (*model.CarouselResult, error)
}

// ResultArchiver 保存结果清单，返回访问地址
type ResultArchiver interface {
	UploadResultManifest(jobID string, data []byte) (string, error)
}

// Processor 任务处理器：领取 -> 生成 -> 归档 -> 完成/失败
type Processor struct {
	jobs      JobLifecycle
	generator Generator
	archiver  ResultArchiver
	log       *logger.Logger
	now       func() time.Time
}

// NewProcessor archiver 可以为 nil，此时不归档结果清单
func NewProcessor(jobs JobLifecycle, generator Generator, archiver ResultArchiver, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Processor{
		jobs:      jobs,
		generator: generator,
		archiver:  archiver,
		log:       log.With("component", "processor"),
		now:       time.Now,
	}
}

// Process 处理队列消息。任务已被领取或已删除时直接跳过
func (p *Processor) Process(ctx context.Context, workerID string, msg *queue.JobMessage) error {
	job, err := p.jobs.ClaimJob(ctx, msg.JobID, workerID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindConflict) || apperr.IsKind(err, apperr.KindNotFound) {
			p.log.Debug("skip job", "job_id", msg.JobID, "worker_id", workerID, "reason", err)
			return nil
		}
		return fmt.Errorf("failed to claim job %s: %w", msg.JobID, err)
	}
	return p.run(ctx, workerID, job)
}

// ProcessNext 直接从数据库领取下一个任务，没有任务时返回 false
func (p *Processor) ProcessNext(ctx context.Context, workerID string) (bool, error) {
	job, err := p.jobs.ClaimNextJob(ctx, workerID)
	if err != nil {
		return false, fmt.Errorf("failed to claim next job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, p.run(ctx, workerID, job)
}

func (p *Processor) run(ctx context.Context, workerID string, job *model.GenerationJob) error {
	start := p.now()
	log := p.log.With("job_id", job.ID, "job_type", job.JobType, "worker_id", workerID)
	log.Info("processing job")

	tracker := &progressTracker{processor: p, ctx: ctx, jobID: job.ID, log: log}
	tracker.step(pubsub.StepClaimed)
	tracker.step(pubsub.StepGenerating)

	result, err := p.generator.Generate(ctx, job, tracker.generatorProgress)
	if err != nil {
		return p.fail(ctx, log, job, "generation_failed", "生成失败，请稍后重试", err)
	}
	if result == nil {
		return p.fail(ctx, log, job, "empty_result", "生成服务没有返回结果", errors.New("generator returned nil result"))
	}
	result.ProcessingTimeMs = p.now().Sub(start).Milliseconds()

	tracker.step(pubsub.StepArchiving)
	if p.archiver != nil {
		manifest, err := json.Marshal(result)
		if err != nil {
			return p.fail(ctx, log, job, "invalid_result", "生成结果无法保存", err)
		}
		url, err := p.archiver.UploadResultManifest(job.ID, manifest)
		if err != nil {
			// 清单只是备份，失败不影响任务结果
			log.Warn("failed to archive result manifest", "error", err)
		} else {
			result.ManifestURL = url
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return p.fail(ctx, log, job, "invalid_result", "生成结果无法保存", err)
	}
	// 结果已生成，进程退出时也要写完
	writeCtx, cancel := terminalContext(ctx)
	defer cancel()
	if _, err := p.jobs.CompleteJob(writeCtx, job.ID, data); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}

	log.Info("job completed", "slides", len(result.SlideURLs), "elapsed_ms", result.ProcessingTimeMs)
	return nil
}

// fail 标记任务失败。ctx 已取消时（进程退出）仍然写入，避免任务停在 processing
func (p *Processor) fail(ctx context.Context, log *logger.Logger, job *model.GenerationJob, code, message string, cause error) error {
	details := map[string]interface{}{"error": cause.Error()}
	if ctx.Err() != nil {
		code = "worker_stopped"
		message = "工作进程已停止，请重新提交"
	}

	failCtx, cancel := terminalContext(ctx)
	defer cancel()

	if _, err := p.jobs.FailJob(failCtx, job.ID, &model.JobError{
		Message: message,
		Code:    code,
		Details: details,
	}); err != nil {
		log.Error("failed to mark job failed", "error", err, "cause", cause)
		return fmt.Errorf("failed to fail job %s: %w", job.ID, err)
	}

	log.Warn("job failed", "code", code, "error", cause)
	return cause
}

// terminalContext 终态写入不跟随 ctx 取消
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

// progressTracker 把阶段和生成器进度写回任务，只前进不后退
type progressTracker struct {
	processor *Processor
	ctx       context.Context
	jobID     string
	log       *logger.Logger
	last      int
}

func (t *progressTracker) step(step string) {
	t.report(pubsub.StepProgress[step], pubsub.StepMessages[step])
}

// generatorProgress 生成器的 0-100 映射到 generating 与 archiving 之间
func (t *progressTracker) generatorProgress(percent int, message string) {
	lo := pubsub.StepProgress[pubsub.StepGenerating]
	hi := pubsub.StepProgress[pubsub.StepArchiving]
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if message == "" {
		message = pubsub.StepMessages[pubsub.StepGenerating]
	}
	t.report(lo+(hi-lo)*percent/100, message)
}

func (t *progressTracker) report(percent int, message string) {
	if percent <= t.last || percent >= 100 {
		return
	}
	if _, err := t.processor.jobs.UpdateJobProgress(t.ctx, t.jobID, percent, message); err != nil {
		t.log.Debug("failed to update progress", "progress", percent, "error", err)
		return
	}
	t.last = percent
}
