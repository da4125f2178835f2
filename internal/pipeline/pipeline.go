package pipeline

import (
	"Best_IP_Selector_Go/internal/config"
	"Best_IP_Selector_Go/internal/datasource"
	"Best_IP_Selector_Go/internal/engine"
	"Best_IP_Selector_Go/internal/locations"
	"Best_IP_Selector_Go/internal/metrics"
	"Best_IP_Selector_Go/internal/output"
	"Best_IP_Selector_Go/internal/tester"
	"Best_IP_Selector_Go/pkg/model"
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// coloFile 是数据中心代码表，用于地理位置查询失败时兜底
const coloFile = "colo.txt"

// Hooks 是一次运行的可选回调
type Hooks struct {
	Progress engine.ProgressCallback
	Tick     engine.TickCallback
	// Started 在候选列表加载完成、开始测试前调用一次
	Started func(total int)
	// Finished 在测试结束、写入结果文件之前调用一次
	Finished func(summary model.RunSummary)
	Recorder *metrics.Recorder
	// Prober 和 Locator 为空时使用基于 HTTP 的默认实现
	Prober  engine.Prober
	Locator engine.Locator
}

// Report 是一次完整运行的结果
type Report struct {
	*engine.Result
	OutputFile string
	Written    bool // 为 false 表示没有合格 IP，结果文件未被改动
}

// Run 依次执行：下载资源 -> 读取目标与候选 -> 打乱 -> 测试 -> 写入结果。
// baseDir 用于解析配置中的相对路径
func Run(ctx context.Context, cfg *config.Config, baseDir string, hooks Hooks) (*Report, error) {
	progressCb := hooks.Progress
	if progressCb == nil {
		progressCb = func(string) {}
	}
	assetDir := resolve(baseDir, cfg.AssetDir)
	outputFile := resolve(baseDir, cfg.OutputFile)

	// --- 1. 下载资源 ---
	progressCb("步骤 1/4: 检查资源文件...")
	fetcher := datasource.NewFetcher(datasource.FetcherConfig{
		MaxRetries: cfg.DownloadRetries,
		RetryDelay: cfg.DownloadRetryDelay(),
		Refresh:    cfg.RefreshAssets,
	})
	if err := fetcher.EnsureAll(ctx, assetDir, cfg.AssetURLs); err != nil {
		progressCb(fmt.Sprintf("警告: %v，尝试使用本地已有文件继续。", err))
	}

	// --- 2. 读取目标与候选 ---
	progressCb("步骤 2/4: 读取目标与候选 IP...")
	target, err := datasource.LoadTarget(filepath.Join(assetDir, cfg.TargetFile()))
	if err != nil {
		return nil, fmt.Errorf("加载测速地址失败: %w", err)
	}
	candidates, err := datasource.LoadCandidates(filepath.Join(assetDir, cfg.CandidateFile()))
	if err != nil {
		return nil, fmt.Errorf("加载候选 IP 失败: %w", err)
	}
	datasource.Shuffle(candidates, nil)
	progressCb(fmt.Sprintf("测速地址: %s，候选 IP %d 个。", target.ResourceURL(), len(candidates)))
	if hooks.Started != nil {
		hooks.Started(len(candidates))
	}

	// --- 3. 测试 ---
	progressCb("步骤 3/4: 延迟与速度测试...")
	prober := hooks.Prober
	if prober == nil {
		prober = tester.NewHTTPProber(cfg)
	}
	locator := hooks.Locator
	if locator == nil && cfg.Enrichment {
		locator = tester.NewGeoResolver(cfg.GeoServices, cfg.GeoTimeout(), cfg.GeoRatePerMinute)
	}
	eng := engine.New(engine.OptionsFromConfig(cfg), prober, locator, hooks.Recorder)
	if cfg.Enrichment {
		if colos, err := locations.LoadColoFile(filepath.Join(assetDir, coloFile)); err == nil && len(colos) > 0 {
			eng.WithColoFallback(colos)
		}
	}
	result, err := eng.Run(ctx, target, candidates, progressCb, hooks.Tick)
	if err != nil {
		return nil, fmt.Errorf("测试中断: %w", err)
	}
	hooks.Recorder.RunFinished(result.Summary.Admitted)
	if hooks.Finished != nil {
		hooks.Finished(result.Summary)
	}

	// --- 4. 写入结果 ---
	progressCb("步骤 4/4: 写入结果文件...")
	report := &Report{Result: result, OutputFile: outputFile}
	err = output.WriteBestIPs(outputFile, result.Outcomes, output.LineFormatFromConfig(cfg))
	switch {
	case errors.Is(err, output.ErrNoResults):
		progressCb("没有找到符合条件的 IP，未写入结果文件。")
		return report, nil
	case err != nil:
		return nil, err
	}
	report.Written = true
	progressCb(fmt.Sprintf("已将 %d 个 IP 写入 %s", len(result.Outcomes), outputFile))

	if cfg.ExportJSON {
		path := output.ExportPath(outputFile, ".json")
		if err := output.WriteJSONFile(path, result.Summary, result.Outcomes); err != nil {
			return nil, err
		}
		progressCb(fmt.Sprintf("已导出 %s", path))
	}
	if cfg.ExportCSV {
		path := output.ExportPath(outputFile, ".csv")
		if err := output.WriteCSVFile(path, result.Outcomes); err != nil {
			return nil, err
		}
		progressCb(fmt.Sprintf("已导出 %s", path))
	}
	return report, nil
}

func resolve(baseDir, path string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
