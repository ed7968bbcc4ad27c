package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// JobStatus 任务状态: pending -> processing -> completed | failed
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// AllJobStatuses 统计时的固定顺序
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal completed 和 failed 为终态
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobPriority 只影响出队顺序，不影响并发
type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
)

// PrioritiesDesc 按优先级从高到低
var PrioritiesDesc = []JobPriority{PriorityHigh, PriorityNormal, PriorityLow}

func (p JobPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

func (p JobPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// JobType 决定 payload/result 的结构
type JobType string

const (
	JobTypeCarouselGeneration JobType = "CAROUSEL_GENERATION"
	JobTypeSlideRegeneration  JobType = "SLIDE_REGENERATION"
	JobTypeCaptionGeneration  JobType = "CAPTION_GENERATION"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeCarouselGeneration, JobTypeSlideRegeneration, JobTypeCaptionGeneration:
		return true
	}
	return false
}

// JobError 失败描述，Message 直接展示给用户
type JobError struct {
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// CarouselPayload CAROUSEL_GENERATION 的输入结构，由 HTTP 层校验
type CarouselPayload struct {
	Prompt      string   `json:"prompt"`
	Style       string   `json:"style,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	SlideCount  int      `json:"slide_count,omitempty"`
	KeyPoints   []string `json:"key_points,omitempty"`
}

// CarouselResult CAROUSEL_GENERATION 的输出结构
type CarouselResult struct {
	SlideURLs        []string `json:"slide_urls"`
	Captions         []string `json:"captions,omitempty"`
	Cost             float64  `json:"cost,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms,omitempty"`
	ManifestURL      string   `json:"manifest_url,omitempty"`
}

type GenerationJob struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	UserID          string         `gorm:"size:64;not null;index" json:"user_id"`
	ClerkUserID     string         `gorm:"size:64;index" json:"clerk_user_id,omitempty"`
	JobType         JobType        `gorm:"size:50;not null;index" json:"job_type"`
	Status          JobStatus      `gorm:"size:20;not null;index" json:"status"`
	Priority        JobPriority    `gorm:"size:10;not null" json:"priority"`
	Payload         datatypes.JSON `json:"payload"`
	Result          datatypes.JSON `json:"result"`
	Error           datatypes.JSON `json:"error"`
	ProgressPercent int            `gorm:"not null;default:0" json:"progress_percent"`
	ProgressMessage string         `gorm:"size:500" json:"progress_message"`
	RetryCount      int            `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries      int            `gorm:"not null" json:"max_retries"`
	WorkerID        string         `gorm:"size:64" json:"worker_id,omitempty"`
	ScheduledAt     *time.Time     `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"index" json:"updated_at"`
}

func (GenerationJob) TableName() string {
	return "generation_jobs"
}

func (j *GenerationJob) HasResult() bool {
	return len(j.Result) > 0 && string(j.Result) != "null"
}

func (j *GenerationJob) HasError() bool {
	return len(j.Error) > 0 && string(j.Error) != "null"
}

// ErrorInfo 解析 error 字段，未设置时返回 nil
func (j *GenerationJob) ErrorInfo() (*JobError, error) {
	if !j.HasError() {
		return nil, nil
	}
	var e JobError
	if err := json.Unmarshal(j.Error, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
