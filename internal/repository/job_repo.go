package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/carousel_go_server/internal/model"
	"github.com/qs3c/carousel_go_server/internal/pkg/apperr"
)

// 优先级高的在前，同优先级按创建时间先进先出
const dispatchOrder = "CASE priority WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END DESC, created_at ASC"

var (
	ErrJobNotFound     = apperr.NotFound("job_not_found", "任务不存在")
	ErrJobUserRequired = apperr.Validation("user_id_required", "user_id 不能为空")
	ErrJobTypeRequired = apperr.Validation("job_type_required", "job_type 不能为空")
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Insert 写入新任务，缺省的 ID 和时间戳在此补齐
func (r *JobRepository) Insert(ctx context.Context, job *model.GenerationJob) error {
	if strings.TrimSpace(job.UserID) == "" {
		return ErrJobUserRequired
	}
	if strings.TrimSpace(string(job.JobType)) == "" {
		return ErrJobTypeRequired
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return apperr.Infrastructure(err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.GenerationJob, error) {
	var job model.GenerationJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, apperr.Infrastructure(err)
	}
	return &job, nil
}

// ListByUser 获取用户的全部任务，最新的在前
func (r *JobRepository) ListByUser(ctx context.Context, userID string) ([]*model.GenerationJob, error) {
	var jobs []*model.GenerationJob
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, apperr.Infrastructure(err)
	}
	return jobs, nil
}

// ListByStatus 按出队顺序列出指定状态的任务，limit <= 0 表示不限
func (r *JobRepository) ListByStatus(ctx context.Context, status model.JobStatus, limit int) ([]*model.GenerationJob, error) {
	var jobs []*model.GenerationJob
	q := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order(dispatchOrder)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, apperr.Infrastructure(err)
	}
	return jobs, nil
}

// Update 合并字段并刷新 updated_at
func (r *JobRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	fields = withUpdatedAt(fields)
	res := r.db.WithContext(ctx).
		Model(&model.GenerationJob{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return apperr.Infrastructure(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// UpdateWhereStatus 仅当任务当前状态属于 from 时才更新，返回是否命中
func (r *JobRepository) UpdateWhereStatus(ctx context.Context, id string, from []model.JobStatus, fields map[string]interface{}) (bool, error) {
	fields = withUpdatedAt(fields)
	q := r.db.WithContext(ctx).
		Model(&model.GenerationJob{}).
		Where("id = ?", id)
	if len(from) == 1 {
		q = q.Where("status = ?", string(from[0]))
	} else if len(from) > 1 {
		q = q.Where("status IN ?", statusStrings(from))
	}

	res := q.Updates(fields)
	if res.Error != nil {
		return false, apperr.Infrastructure(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateIfStale 仅当任务仍在处理中且 cutoff 之后没有更新过时才更新
func (r *JobRepository) UpdateIfStale(ctx context.Context, id string, cutoff time.Time, fields map[string]interface{}) (bool, error) {
	fields = withUpdatedAt(fields)
	res := r.db.WithContext(ctx).
		Model(&model.GenerationJob{}).
		Where("id = ? AND status = ? AND updated_at < ?", id, string(model.JobStatusProcessing), cutoff).
		Updates(fields)
	if res.Error != nil {
		return false, apperr.Infrastructure(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateIfOutcomeEmpty 仅当任务处于 status 且 column（result 或 error）尚未写入时才更新
func (r *JobRepository) UpdateIfOutcomeEmpty(ctx context.Context, id string, status model.JobStatus, column string, fields map[string]interface{}) (bool, error) {
	if column != "result" && column != "error" {
		return false, apperr.Validation("invalid_outcome_column", "只能写入 result 或 error")
	}
	fields = withUpdatedAt(fields)
	res := r.db.WithContext(ctx).
		Model(&model.GenerationJob{}).
		Where("id = ? AND status = ?", id, string(status)).
		Where(column + " IS NULL").
		Updates(fields)
	if res.Error != nil {
		return false, apperr.Infrastructure(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.GenerationJob{})
	if res.Error != nil {
		return apperr.Infrastructure(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// CountByStatus 按状态分组计数，userID 为空时统计全部
func (r *JobRepository) CountByStatus(ctx context.Context, userID string) (map[model.JobStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	q := r.db.WithContext(ctx).
		Model(&model.GenerationJob{}).
		Select("status, COUNT(*) AS count").
		Group("status")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, apperr.Infrastructure(err)
	}

	out := make(map[model.JobStatus]int64, len(model.AllJobStatuses))
	for _, s := range model.AllJobStatuses {
		out[s] = 0
	}
	for _, row := range rows {
		out[model.JobStatus(row.Status)] = row.Count
	}
	return out, nil
}

// ListStale 获取 cutoff 之后没有任何更新的处理中任务
func (r *JobRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*model.GenerationJob, error) {
	var jobs []*model.GenerationJob
	q := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(model.JobStatusProcessing), cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, apperr.Infrastructure(err)
	}
	return jobs, nil
}

// ListTerminalBefore 获取 cutoff 之前结束的任务（清理用）
func (r *JobRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.GenerationJob, error) {
	var jobs []*model.GenerationJob
	q := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?", statusStrings([]model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed}), cutoff).
		Order("completed_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, apperr.Infrastructure(err)
	}
	return jobs, nil
}

// DeleteByIDs 批量删除，返回实际删除条数
func (r *JobRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.GenerationJob{})
	if res.Error != nil {
		return 0, apperr.Infrastructure(res.Error)
	}
	return res.RowsAffected, nil
}

func withUpdatedAt(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now()
	}
	return fields
}

func statusStrings(statuses []model.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
