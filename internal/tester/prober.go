package tester

import (
	"Best_IP_Selector_Go/internal/config"
	"Best_IP_Selector_Go/pkg/model"
	"context"
	"log"
)

// HTTPProber 把候选 IP 当作 HTTP 代理进行延迟和速度探测。
// 探测失败一律返回 0，错误只在 Verbose 时打印
type HTTPProber struct {
	TracePath  string
	Latency    LatencyOptions
	Throughput ThroughputOptions
	Verbose    bool
}

// NewHTTPProber 根据配置创建探测器
func NewHTTPProber(cfg *config.Config) *HTTPProber {
	return &HTTPProber{
		TracePath: cfg.TracePath,
		Latency: LatencyOptions{
			ProxyPort: cfg.ProxyPort,
			Count:     cfg.LatencyProbeCount,
			Divisor:   cfg.LatencyDivisor,
			Delay:     cfg.LatencyProbeDelay(),
			Timeout:   cfg.LatencyTimeout(),
		},
		Throughput: ThroughputOptions{
			ProxyPort: cfg.ProxyPort,
			Timeout:   cfg.ThroughputTimeout(),
			ReadBody:  cfg.ThroughputReadBody,
		},
	}
}

// MeasureLatency 返回平均延迟，失败时为 0
func (p *HTTPProber) MeasureLatency(ctx context.Context, target model.Target, ip string) model.LatencyResult {
	result, err := TestLatency(ctx, ip, target.TraceURL(p.TracePath), p.Latency)
	if err != nil {
		if p.Verbose {
			log.Printf("延迟测试失败: %v", err)
		}
		return model.LatencyResult{}
	}
	return result
}

// MeasureThroughput 返回下载速度（MB/s），失败时为 0
func (p *HTTPProber) MeasureThroughput(ctx context.Context, target model.Target, ip string) float64 {
	result, err := TestDownloadSpeed(ctx, ip, target.ResourceURL(), p.Throughput)
	if err != nil {
		if p.Verbose {
			log.Printf("下载测速失败: %v", err)
		}
		return 0.0
	}
	if !result.Declared && p.Verbose {
		log.Printf("IP %s 的响应未提供 Content-Length，速度按 0 计算", ip)
	}
	return result.Speed
}
