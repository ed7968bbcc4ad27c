package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/carousel_go_server/internal/model"
)

// TestJob 直接写库创建任务，默认为 pending 的 CAROUSEL_GENERATION
func TestJob(t *testing.T, db *gorm.DB, opts ...func(*model.GenerationJob)) *model.GenerationJob {
	t.Helper()

	now := time.Now()
	job := &model.GenerationJob{
		ID:         uuid.NewString(),
		UserID:     "user_1",
		JobType:    model.JobTypeCarouselGeneration,
		Status:     model.JobStatusPending,
		Priority:   model.PriorityNormal,
		Payload:    datatypes.JSON(`{"prompt":"5 tips for better sleep","slide_count":5}`),
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

// WithStatus 设置状态，处理中的任务同时设置 worker 和开始时间
func WithStatus(status model.JobStatus) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.Status = status
		if status != model.JobStatusPending && j.StartedAt == nil {
			started := j.CreatedAt
			j.StartedAt = &started
			j.WorkerID = "worker_test"
		}
		if status.IsTerminal() && j.CompletedAt == nil {
			completed := j.UpdatedAt
			j.CompletedAt = &completed
		}
		if status == model.JobStatusCompleted {
			j.ProgressPercent = 100
		}
	}
}

// WithPriority 设置优先级
func WithPriority(priority model.JobPriority) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.Priority = priority
	}
}

// WithJobType 设置任务类型
func WithJobType(jobType model.JobType) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.JobType = jobType
	}
}

// WithUserID 设置所属用户
func WithUserID(userID string) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.UserID = userID
	}
}

// WithCreatedAt 设置创建时间
func WithCreatedAt(at time.Time) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.CreatedAt = at
	}
}

// WithUpdatedAt 设置更新时间
func WithUpdatedAt(at time.Time) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.UpdatedAt = at
	}
}

// WithProgress 设置进度
func WithProgress(percent int) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.ProgressPercent = percent
	}
}

// WithScheduledAt 设置计划执行时间
func WithScheduledAt(at time.Time) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.ScheduledAt = &at
	}
}

// WithResult 设置结果
func WithResult(result string) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.Result = datatypes.JSON(result)
	}
}

// WithError 设置错误
func WithError(jobErr string) func(*model.GenerationJob) {
	return func(j *model.GenerationJob) {
		j.Error = datatypes.JSON(jobErr)
	}
}
