package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/carousel_go_server/internal/api/middleware"
	"github.com/qs3c/carousel_go_server/internal/model"
	"github.com/qs3c/carousel_go_server/internal/model/dto"
	"github.com/qs3c/carousel_go_server/internal/pkg/apperr"
	"github.com/qs3c/carousel_go_server/internal/pkg/jwt"
	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
	"github.com/qs3c/carousel_go_server/internal/pkg/response"
	"github.com/qs3c/carousel_go_server/internal/service"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 200
)

type JobHandler struct {
	jobService *service.JobService
	log        *logger.Logger
}

func NewJobHandler(jobService *service.JobService, log *logger.Logger) *JobHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &JobHandler{
		jobService: jobService,
		log:        log.With("handler", "JobHandler"),
	}
}

// Create 提交生成任务
// POST /api/v1/jobs
func (h *JobHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if req.UserID == "" {
		req.UserID = userID
	}
	if req.UserID != userID && !middleware.IsPrivileged(c) {
		response.PermissionError(c, "只能为自己创建任务")
		return
	}
	if err := ValidatePayload(model.JobType(req.JobType), req.Payload); err != nil {
		h.respondError(c, err)
		return
	}

	job, err := h.jobService.CreateJob(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "任务已创建", job)
}

// Get 查询任务状态，轮询接口
// GET /api/v1/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	job, ok := h.loadOwnedJob(c, false)
	if !ok {
		return
	}
	response.Success(c, job)
}

// List 按用户或按状态列出任务
// GET /api/v1/jobs?user_id=xxx
// GET /api/v1/jobs?status=pending&limit=50
func (h *JobHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	if status := c.Query("status"); status != "" {
		h.listByStatus(c, status)
		return
	}

	target := c.DefaultQuery("user_id", userID)
	if target != userID && !middleware.IsPrivileged(c) {
		response.PermissionError(c, "只能查看自己的任务")
		return
	}

	jobs, err := h.jobService.GetUserJobs(c.Request.Context(), target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.SuccessList(c, len(jobs), jobs)
}

func (h *JobHandler) listByStatus(c *gin.Context, status string) {
	if !middleware.IsPrivileged(c) {
		response.PermissionError(c, "")
		return
	}
	if model.JobStatus(status) != model.JobStatusPending {
		response.ParamError(c, "只支持查询 pending 状态的任务")
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPendingLimit)))
	if err != nil || limit < 1 {
		response.ParamError(c, "无效的 limit")
		return
	}
	if limit > maxPendingLimit {
		limit = maxPendingLimit
	}

	jobs, err := h.jobService.GetPendingJobs(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.SuccessList(c, len(jobs), jobs)
}

// UpdateStatus 推进任务状态
// PATCH /api/v1/jobs/:id/status
func (h *JobHandler) UpdateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	var opts []service.UpdateOption
	if req.ProgressMessage != nil {
		opts = append(opts, service.WithProgressMessage(*req.ProgressMessage))
	}

	status := model.JobStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	job, err := h.jobService.UpdateJobStatus(c.Request.Context(), c.Param("id"), status, req.ProgressPercent, opts...)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Success(c, job)
}

// UpdateProgress 上报进度
// PATCH /api/v1/jobs/:id/progress
func (h *JobHandler) UpdateProgress(c *gin.Context) {
	var req dto.UpdateProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	job, err := h.jobService.UpdateJobProgress(c.Request.Context(), c.Param("id"), *req.ProgressPercent, req.ProgressMessage)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Success(c, job)
}

// UpdateResult 补写结果
// PATCH /api/v1/jobs/:id/result
func (h *JobHandler) UpdateResult(c *gin.Context) {
	var req dto.UpdateResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	job, err := h.jobService.UpdateJobResult(c.Request.Context(), c.Param("id"), req.Result)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Success(c, job)
}

// UpdateError 补写错误
// PATCH /api/v1/jobs/:id/error
func (h *JobHandler) UpdateError(c *gin.Context) {
	var req dto.UpdateErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	job, err := h.jobService.UpdateJobError(c.Request.Context(), c.Param("id"), toJobError(&req))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Success(c, job)
}

// Complete 写入结果并完成任务
// POST /api/v1/jobs/:id/complete
func (h *JobHandler) Complete(c *gin.Context) {
	var req dto.UpdateResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	job, err := h.jobService.CompleteJob(c.Request.Context(), c.Param("id"), req.Result)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Success(c, job)
}

// Fail 写入错误并结束任务
// POST /api/v1/jobs/:id/fail
func (h *JobHandler) Fail(c *gin.Context) {
	var req dto.UpdateErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	job, err := h.jobService.FailJob(c.Request.Context(), c.Param("id"), toJobError(&req))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Success(c, job)
}

// Claim 领取指定任务
// POST /api/v1/jobs/:id/claim
func (h *JobHandler) Claim(c *gin.Context) {
	workerID, ok := h.bindWorkerID(c)
	if !ok {
		return
	}

	job, err := h.jobService.ClaimJob(c.Request.Context(), c.Param("id"), workerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Success(c, job)
}

// ClaimNext 按出队顺序领取下一个任务，没有任务时 data 为 null
// POST /api/v1/jobs/claim
func (h *JobHandler) ClaimNext(c *gin.Context) {
	workerID, ok := h.bindWorkerID(c)
	if !ok {
		return
	}

	job, err := h.jobService.ClaimNextJob(c.Request.Context(), workerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if job == nil {
		response.SuccessWithMessage(c, "暂无待处理任务", nil)
		return
	}
	response.Success(c, job)
}

// Delete 删除任务，仅限所有者和管理员
// DELETE /api/v1/jobs/:id
func (h *JobHandler) Delete(c *gin.Context) {
	job, ok := h.loadOwnedJob(c, true)
	if !ok {
		return
	}

	if err := h.jobService.DeleteJob(c.Request.Context(), job.ID); err != nil {
		h.respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// Stats 任务统计。普通用户只能看自己的
// GET /api/v1/jobs/stats[?user_id=xxx]
func (h *JobHandler) Stats(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	target := c.Query("user_id")
	if !middleware.IsPrivileged(c) {
		if target != "" && target != userID {
			response.PermissionError(c, "只能查看自己的统计")
			return
		}
		target = userID
	}

	var (
		stats *dto.JobStatistics
		err   error
	)
	if target == "" {
		stats, err = h.jobService.GetQueueStatistics(c.Request.Context())
	} else {
		stats, err = h.jobService.GetUserStatistics(c.Request.Context(), target)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Success(c, stats)
}

// loadOwnedJob 读取任务并检查访问权限。deleting 为 true 时 worker 也不能访问他人任务
func (h *JobHandler) loadOwnedJob(c *gin.Context, deleting bool) (*model.GenerationJob, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return nil, false
	}

	job, err := h.jobService.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}

	if job.UserID == userID {
		return job, true
	}
	role, _ := middleware.GetRole(c)
	if role == jwt.RoleAdmin || (!deleting && role == jwt.RoleWorker) {
		return job, true
	}
	response.PermissionError(c, "无权访问此任务")
	return nil, false
}

func (h *JobHandler) bindWorkerID(c *gin.Context) (string, bool) {
	var req dto.ClaimJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, err.Error())
			return "", false
		}
	}
	if req.WorkerID == "" {
		req.WorkerID, _ = middleware.GetUserID(c)
	}
	if req.WorkerID == "" {
		response.ParamError(c, "worker_id 不能为空")
		return "", false
	}
	return req.WorkerID, true
}

func toJobError(req *dto.UpdateErrorRequest) *model.JobError {
	return &model.JobError{
		Message: req.Message,
		Code:    req.Code,
		Details: req.Details,
	}
}

// respondError 按错误类别映射业务码，基础设施错误不暴露细节
func (h *JobHandler) respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	message := ""
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		response.ParamError(c, message)
	case apperr.KindNotFound:
		response.NotFoundError(c, message)
	case apperr.KindInvalidTransition:
		response.InvalidTransitionError(c, message, appErr.Details)
	case apperr.KindConflict:
		response.ConflictError(c, message)
	default:
		_ = c.Error(err)
		h.log.Error("job request failed", "path", c.FullPath(), "job_id", c.Param("id"), "error", err)
		response.ServerError(c, "")
	}
}
