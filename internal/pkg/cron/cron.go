package cron

import (
	"context"
	"sync"
	"time"

	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
)

const defaultInterval = 5 * time.Minute

// StaleSweeper 由 service.JobService 实现
type StaleSweeper interface {
	FailStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Service 定时把长时间没有进度的处理中任务置为失败
type Service struct {
	sweeper    StaleSweeper
	staleAfter time.Duration
	interval   time.Duration
	log        *logger.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewService staleAfter <= 0 时 Start 不启动任何任务
func NewService(sweeper StaleSweeper, staleAfter, interval time.Duration, log *logger.Logger) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		sweeper:    sweeper,
		staleAfter: staleAfter,
		interval:   interval,
		log:        log.With("component", "cron"),
		stopChan:   make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	if s.staleAfter <= 0 || s.sweeper == nil {
		s.log.Info("stale job sweep disabled")
		return
	}
	s.wg.Add(1)
	go s.runStaleSweep()
	s.log.Info("cron service started", "stale_after", s.staleAfter, "interval", s.interval)
}

// Stop 停止定时任务，等待正在执行的扫描结束
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.log.Info("cron service stopped")
}

func (s *Service) runStaleSweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if _, err := s.RunNow(context.Background()); err != nil {
				s.log.Error("stale job sweep failed", "error", err)
			}
		}
	}
}

// RunNow 立即执行一次扫描（用于测试或手动触发）
func (s *Service) RunNow(ctx context.Context) (int, error) {
	if s.staleAfter <= 0 || s.sweeper == nil {
		return 0, nil
	}
	n, err := s.sweeper.FailStaleJobs(ctx, s.staleAfter)
	if n > 0 {
		s.log.Warn("stale jobs failed", "count", n)
	}
	return n, err
}
