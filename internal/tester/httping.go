package tester

import (
	pkgerrors "Best_IP_Selector_Go/pkg/errors"
	"Best_IP_Selector_Go/pkg/model"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// LatencyOptions 控制一次延迟探测
type LatencyOptions struct {
	ProxyPort int
	Count     int           // 连续请求次数 K
	Divisor   float64       // 求平均时的除数 D，可以与 K 不同
	Delay     time.Duration // 相邻两次请求之间的间隔
	Timeout   time.Duration // 单次请求超时，0 表示不限
}

// TestLatency 通过候选 IP 代理连续请求 traceURL，返回平均往返时间（毫秒，保留两位小数）。
// 任意一次请求失败都会立即终止并返回错误
func TestLatency(ctx context.Context, ip, traceURL string, opts LatencyOptions) (model.LatencyResult, error) {
	if opts.ProxyPort == 0 {
		opts.ProxyPort = DefaultProxyPort
	}
	if opts.Divisor <= 0 {
		opts.Divisor = float64(opts.Count)
	}
	client, transport := newProxyClient(ip, opts.ProxyPort, opts.Timeout)
	defer transport.CloseIdleConnections()

	var limiter *rate.Limiter
	if opts.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}

	var (
		totalMS int64
		colo    string
	)
	for i := 0; i < opts.Count; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return model.LatencyResult{}, latencyError(ip, err)
			}
		}

		request, err := http.NewRequestWithContext(ctx, http.MethodGet, traceURL, nil)
		if err != nil {
			return model.LatencyResult{}, latencyError(ip, err)
		}
		request.Header.Set("User-Agent", userAgent)

		startTime := time.Now()
		response, err := client.Do(request)
		if err != nil {
			return model.LatencyResult{}, latencyError(ip, err)
		}
		body, err := io.ReadAll(response.Body)
		_ = response.Body.Close()
		if err != nil {
			return model.LatencyResult{}, latencyError(ip, err)
		}
		totalMS += time.Since(startTime).Milliseconds()

		if !statusOK(response.StatusCode) {
			return model.LatencyResult{}, latencyError(ip, fmt.Errorf("invalid status code: %d", response.StatusCode))
		}
		if colo == "" {
			if colo = parseTraceColo(string(body)); colo == "" {
				colo = getHeaderColo(response.Header)
			}
		}
	}

	return model.LatencyResult{
		Millis: MeanLatency(totalMS, opts.Divisor),
		Colo:   colo,
	}, nil
}

// MeanLatency 用样本总和除以 divisor 得到平均延迟，保留两位小数
func MeanLatency(totalMS int64, divisor float64) float64 {
	if divisor <= 0 {
		return 0.0
	}
	return RoundLatency(float64(totalMS) / divisor)
}

// RoundLatency 保留两位小数
func RoundLatency(ms float64) float64 {
	return math.Round(ms*100) / 100
}

func latencyError(ip string, err error) error {
	return &pkgerrors.ProbeError{Address: ip, Stage: "latency", Err: fmt.Errorf("%w: %v", pkgerrors.ErrProbeFailed, err)}
}
