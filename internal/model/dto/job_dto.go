package dto

import (
	"encoding/json"
	"time"
)

// CreateJobRequest 创建生成任务
type CreateJobRequest struct {
	UserID      string          `json:"user_id"`
	ClerkUserID string          `json:"clerk_user_id,omitempty"`
	JobType     string          `json:"job_type"`
	Priority    string          `json:"priority,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxRetries  *int            `json:"max_retries,omitempty"`
}

// UpdateStatusRequest PATCH /jobs/:id/status
type UpdateStatusRequest struct {
	Status          string  `json:"status" binding:"required"`
	ProgressPercent *int    `json:"progress_percent,omitempty"`
	ProgressMessage *string `json:"progress_message,omitempty"`
}

// UpdateProgressRequest PATCH /jobs/:id/progress
type UpdateProgressRequest struct {
	ProgressPercent *int   `json:"progress_percent" binding:"required"`
	ProgressMessage string `json:"progress_message,omitempty"`
}

// UpdateResultRequest PATCH /jobs/:id/result, POST /jobs/:id/complete
type UpdateResultRequest struct {
	Result json.RawMessage `json:"result"`
}

// UpdateErrorRequest PATCH /jobs/:id/error, POST /jobs/:id/fail
type UpdateErrorRequest struct {
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ClaimJobRequest 工作进程领取任务，worker_id 为空时使用 token 中的 user_id
type ClaimJobRequest struct {
	WorkerID string `json:"worker_id"`
}

// JobStatistics 按状态统计任务数
type JobStatistics struct {
	TotalJobs      int64 `json:"total_jobs"`
	PendingJobs    int64 `json:"pending_jobs"`
	ProcessingJobs int64 `json:"processing_jobs"`
	CompletedJobs  int64 `json:"completed_jobs"`
	FailedJobs     int64 `json:"failed_jobs"`
}
