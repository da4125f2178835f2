package engine

import (
	"Best_IP_Selector_Go/internal/config"
	pkgerrors "Best_IP_Selector_Go/pkg/errors"
	"Best_IP_Selector_Go/pkg/model"
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ProgressCallback 是一个用于报告进度的回调函数类型，可能被多个 worker 并发调用
type ProgressCallback func(message string)

// TickCallback 每完成一个候选（无论成败）调用一次，可能被并发调用
type TickCallback func(p Progress)

// Progress 描述当前运行进度
type Progress struct {
	Done     int           `json:"done"`
	Total    int           `json:"total"`
	Admitted int           `json:"admitted"`
	ETA      time.Duration `json:"eta_ns"`
}

// Prober 对单个候选进行延迟与速度测试。失败时返回 0，不返回错误
type Prober interface {
	MeasureLatency(ctx context.Context, target model.Target, ip string) model.LatencyResult
	MeasureThroughput(ctx context.Context, target model.Target, ip string) float64
}

// Locator 查询候选的国家代码
type Locator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// ColoLookup 根据数据中心代码给出国家代码，在地理位置服务全部失败时兜底
type ColoLookup interface {
	Country(colo string) (string, bool)
}

// Observer 接收每个候选的阶段结果，用于指标统计
type Observer interface {
	UnitStarted()
	UnitFinished(stage string)
	ObserveLatency(ms float64)
	ObserveThroughput(mbps float64)
}

// 单个候选最终停留的阶段
const (
	StageLatencyFailed      = "latency_failed"
	StageLatencyRejected    = "latency_rejected"
	StageThroughputRejected = "throughput_rejected"
	StageAdmitted           = "admitted"
	StageSkipped            = "skipped"
)

// Options 控制一次筛选
type Options struct {
	Concurrency int
	MaxLatency  float64 // 毫秒，延迟门槛（含）
	MinSpeed    float64 // MB/s，速度必须严格大于该值
	TopN        int     // 0 表示不截断
	Enrich      bool
}

// OptionsFromConfig 从配置中提取引擎参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency: cfg.Concurrency,
		MaxLatency:  cfg.MaxLatency,
		MinSpeed:    cfg.MinSpeed,
		TopN:        cfg.TopN,
		Enrich:      cfg.Enrichment,
	}
}

// Result 是一次运行的最终结果，Outcomes 已排序并截断
type Result struct {
	Outcomes []model.Outcome
	Summary  model.RunSummary
}

// Engine 是基准测试协调器
type Engine struct {
	opts     Options
	prober   Prober
	locator  Locator
	observer Observer
	colos    ColoLookup
}

// New 创建引擎。locator 和 observer 可以为 nil
func New(opts Options, prober Prober, locator Locator, observer Observer) *Engine {
	if opts.Concurrency <= 0 {
		log.Printf("警告: concurrency 被设置为 %d，可能导致死锁。自动调整为默认值 %d。", opts.Concurrency, config.DefaultConcurrency)
		opts.Concurrency = config.DefaultConcurrency
	}
	if opts.TopN < 0 {
		opts.TopN = 0
	}
	return &Engine{opts: opts, prober: prober, locator: locator, observer: observer}
}

// WithColoFallback 设置地理位置查询失败时使用的离线映射
func (e *Engine) WithColoFallback(colos ColoLookup) *Engine {
	e.colos = colos
	return e
}

// unitResult 是单个候选管线的分类结果
type unitResult struct {
	stage   string
	outcome model.Outcome
	geoErr  error
}

// runState 保存一次运行中各 worker 共享的计数器
type runState struct {
	total         int
	done          atomic.Int64
	latencyPassed atomic.Int64
	geoFailed     atomic.Int64

	etaMu sync.Mutex
	avg   ewma.MovingAverage
}

// Run 对所有候选执行 延迟 -> 门槛1 -> 速度 -> 门槛2 -> 地理位置 -> 汇总，
// 同时最多 Concurrency 个候选在测试中。ctx 取消后未开始的候选会被跳过
func (e *Engine) Run(ctx context.Context, target model.Target, candidates []string, progressCb ProgressCallback, tickCb TickCallback) (*Result, error) {
	if progressCb == nil {
		progressCb = func(string) {}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: 候选 IP 列表为空", pkgerrors.ErrMissingData)
	}

	start := time.Now()
	runID := uuid.NewString()
	progressCb(fmt.Sprintf("[%s] 开始对 %d 个候选 IP 进行测试，并发数 %d...", runID[:8], len(candidates), e.opts.Concurrency))

	var (
		wg    sync.WaitGroup
		sem   = semaphore.NewWeighted(int64(e.opts.Concurrency))
		set   = NewResultSet()
		state = &runState{total: len(candidates), avg: ewma.NewMovingAverage()}
	)

	var runErr error
	for seq, ip := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			runErr = err
			break
		}
		wg.Add(1)
		go func(seq int, ip string) {
			defer func() {
				sem.Release(1)
				wg.Done()
			}()

			unitStart := time.Now()
			res := e.runUnit(ctx, target, seq, ip)

			switch res.stage {
			case StageSkipped:
				return
			case StageAdmitted:
				state.latencyPassed.Add(1)
				set.Add(res.outcome)
				if res.geoErr != nil {
					state.geoFailed.Add(1)
					log.Printf("IP %s 地理位置查询失败，保留记录 (位置=%q): %v", ip, res.outcome.Location, res.geoErr)
				}
				progressCb(fmt.Sprintf("IP %s: 延迟=%.2fms, 速度=%.2f MB/s, 位置=%s", ip, res.outcome.Latency, res.outcome.Throughput, res.outcome.Location))
			case StageThroughputRejected:
				state.latencyPassed.Add(1)
			}

			progress := state.finish(time.Since(unitStart), set.Len(), e.opts.Concurrency)
			if tickCb != nil {
				tickCb(progress)
			}
		}(seq, ip)
	}
	wg.Wait()

	if runErr == nil {
		runErr = ctx.Err()
	}

	outcomes := Rank(set.Outcomes(), e.opts.TopN)
	summary := model.RunSummary{
		RunID:            runID,
		Total:            len(candidates),
		Evaluated:        int(state.done.Load()),
		LatencyPassed:    int(state.latencyPassed.Load()),
		Admitted:         set.Len(),
		EnrichmentFailed: int(state.geoFailed.Load()),
		Duration:         time.Since(start),
	}
	progressCb(fmt.Sprintf("测试完成: 共 %d 个，已测 %d 个，通过延迟 %d 个，合格 %d 个，耗时 %s。",
		summary.Total, summary.Evaluated, summary.LatencyPassed, summary.Admitted, summary.Duration.Round(time.Millisecond)))

	return &Result{Outcomes: outcomes, Summary: summary}, runErr
}

// runUnit 执行单个候选的完整管线。panic 被转换为失败，不会影响其他候选
func (e *Engine) runUnit(ctx context.Context, target model.Target, seq int, ip string) (res unitResult) {
	if e.observer != nil {
		e.observer.UnitStarted()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("IP %s 测试过程中发生异常: %v", ip, r)
			res = unitResult{stage: StageLatencyFailed}
		}
		if e.observer != nil {
			e.observer.UnitFinished(res.stage)
		}
	}()

	if ctx.Err() != nil {
		return unitResult{stage: StageSkipped}
	}

	latency := e.prober.MeasureLatency(ctx, target, ip)
	if latency.Millis <= 0 {
		return unitResult{stage: StageLatencyFailed}
	}
	if e.observer != nil {
		e.observer.ObserveLatency(latency.Millis)
	}
	if latency.Millis > e.opts.MaxLatency {
		return unitResult{stage: StageLatencyRejected}
	}

	speed := e.prober.MeasureThroughput(ctx, target, ip)
	if e.observer != nil {
		e.observer.ObserveThroughput(speed)
	}
	if speed <= e.opts.MinSpeed {
		return unitResult{stage: StageThroughputRejected}
	}

	outcome := model.Outcome{
		Address:    ip,
		Latency:    latency.Millis,
		Throughput: speed,
		Colo:       latency.Colo,
		Seq:        seq,
	}
	res = unitResult{stage: StageAdmitted}
	if e.opts.Enrich && e.locator != nil {
		location, err := e.locator.Locate(ctx, ip)
		if err != nil {
			res.geoErr = err
			if e.colos != nil && latency.Colo != "" {
				location, _ = e.colos.Country(latency.Colo)
			}
		}
		outcome.Location = location
	}
	res.outcome = outcome
	return res
}

// finish 记录一个候选完成，并根据平均耗时估计剩余时间
func (s *runState) finish(elapsed time.Duration, admitted, concurrency int) Progress {
	done := int(s.done.Add(1))

	s.etaMu.Lock()
	s.avg.Add(float64(elapsed))
	avg := s.avg.Value()
	s.etaMu.Unlock()

	remaining := s.total - done
	eta := time.Duration(avg * float64(remaining) / float64(concurrency))
	if remaining <= 0 {
		eta = 0
	}
	return Progress{Done: done, Total: s.total, Admitted: admitted, ETA: eta}
}
