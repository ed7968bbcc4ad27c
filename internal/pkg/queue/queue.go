package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/carousel_go_server/internal/model"
)

// Queue 按优先级拆成多个 Redis 列表，BRPOP 按 high > normal > low 的顺序取
type Queue struct {
	client    *redis.Client
	queueName string
}

// JobMessage 只携带任务 ID 等索引信息，任务详情以数据库为准
type JobMessage struct {
	JobID      string `json:"job_id"`
	UserID     string `json:"user_id"`
	JobType    string `json:"job_type"`
	Priority   string `json:"priority"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

func (q *Queue) key(priority model.JobPriority) string {
	if !priority.Valid() {
		priority = model.PriorityNormal
	}
	return fmt.Sprintf("%s:%s", q.queueName, priority)
}

func (q *Queue) keys() []string {
	keys := make([]string, 0, len(model.PrioritiesDesc))
	for _, p := range model.PrioritiesDesc {
		keys = append(keys, q.key(p))
	}
	return keys
}

// Push 将任务加入对应优先级的队列
func (q *Queue) Push(ctx context.Context, msg *JobMessage) error {
	if msg.EnqueuedAt == 0 {
		msg.EnqueuedAt = time.Now().Unix()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.key(model.JobPriority(msg.Priority)), data).Err()
}

// Pop 从队列获取任务（阻塞），超时返回 nil, nil
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.keys()...).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 获取所有优先级队列的总长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	var total int64
	for _, key := range q.keys() {
		n, err := q.client.LLen(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
