package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
	"github.com/qs3c/carousel_go_server/internal/pkg/queue"
)

const defaultPopTimeout = 5 * time.Second

// Source 任务投递通道，由 queue.Queue 实现
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.JobMessage, error)
}

// Pool 固定数量的处理协程。队列为空或不可用时从数据库兜底领取
type Pool struct {
	processor  *Processor
	source     Source
	size       int
	popTimeout time.Duration
	workerID   string
	log        *logger.Logger
}

// NewPool source 可以为 nil，此时只轮询数据库
func NewPool(processor *Processor, source Source, size int, popTimeout time.Duration, workerID string, log *logger.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if popTimeout <= 0 {
		popTimeout = defaultPopTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Pool{
		processor:  processor,
		source:     source,
		size:       size,
		popTimeout: popTimeout,
		workerID:   workerID,
		log:        log.With("component", "pool"),
	}
}

// Run 阻塞直到 ctx 取消，正在处理的任务会先结束
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		id := fmt.Sprintf("%s-%d", p.workerID, i)
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}
	p.log.Info("worker pool started", "size", p.size, "worker_id", p.workerID)
	err := g.Wait()
	p.log.Info("worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	log := p.log.With("worker_id", workerID)
	for ctx.Err() == nil {
		var popErr error
		if p.source != nil {
			var msg *queue.JobMessage
			msg, popErr = p.source.Pop(ctx, p.popTimeout)
			if popErr != nil && ctx.Err() == nil {
				log.Warn("failed to pop job", "error", popErr)
			}
			if msg != nil {
				if err := p.processor.Process(ctx, workerID, msg); err != nil {
					log.Error("job processing failed", "job_id", msg.JobID, "error", err)
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
		}

		// 队列里没有消息时，从数据库领取漏投或计划执行的任务
		found, err := p.processor.ProcessNext(ctx, workerID)
		if err != nil {
			log.Error("job processing failed", "error", err)
		}
		if found {
			continue
		}
		// 队列正常时 Pop 本身会阻塞，其余情况需要等待
		if p.source == nil || popErr != nil || err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.popTimeout):
			}
		}
	}
}
