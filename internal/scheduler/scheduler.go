package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// RunFunc 执行一次完整的筛选
type RunFunc func(ctx context.Context) error

// Scheduler 按固定间隔重复执行筛选，同一时间最多只有一次运行
type Scheduler struct {
	scheduler gocron.Scheduler
	interval  time.Duration
	run       RunFunc

	mu      sync.Mutex
	running bool
	runs    atomic.Int64
}

// New 创建定时器
func New(interval time.Duration, run RunFunc) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("无效的运行间隔: %s", interval)
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("创建定时器失败: %w", err)
	}
	return &Scheduler{scheduler: scheduler, interval: interval, run: run}, nil
}

// Start 注册周期任务并立即执行第一次
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("定时器已在运行")
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.runOnce(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("创建定时任务失败: %w", err)
	}

	s.scheduler.Start()
	s.running = true
	log.Printf("定时任务已启动，每 %s 运行一次", s.interval)
	return nil
}

// Stop 停止定时器，等待正在执行的任务结束。等待期间不持有锁
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("定时器未运行")
	}
	s.running = false
	s.mu.Unlock()

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("停止定时器失败: %w", err)
	}
	return nil
}

// Runs 返回已完成的运行次数
func (s *Scheduler) Runs() int {
	return int(s.runs.Load())
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.run(ctx); err != nil {
		log.Printf("定时运行失败: %v", err)
	} else {
		log.Printf("定时运行完成，耗时 %s", time.Since(start).Round(time.Second))
	}
	s.runs.Add(1)
}
