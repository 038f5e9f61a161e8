package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job 定时任务，当前时间由调度器传入
type Job func(ctx context.Context, now time.Time) error

type task struct {
	name     string
	interval time.Duration
	job      Job
}

// Scheduler 固定间隔调度器
// 同一任务串行执行，上一次未结束时跳过本次触发
type Scheduler struct {
	tasks []task
	log   *zap.Logger
	now   func() time.Time
	wg    sync.WaitGroup
}

func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{log: log, now: time.Now}
}

// Every 注册任务，需在 Start 之前调用
func (s *Scheduler) Every(name string, interval time.Duration, job Job) {
	s.tasks = append(s.tasks, task{name: name, interval: interval, job: job})
}

// Start 为每个任务启动一个协程，ctx 取消后退出
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.log.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
}

// Wait 等待所有任务协程退出
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t task) {
	start := time.Now()
	log := s.log.With(zap.String("task", t.name))
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := t.job(ctx, s.now()); err != nil {
		log.Error("task failed", zap.Duration("cost", time.Since(start)), zap.Error(err))
		return
	}
	log.Debug("task finished", zap.Duration("cost", time.Since(start)))
}
