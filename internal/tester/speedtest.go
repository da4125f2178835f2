package tester

import (
	pkgerrors "Best_IP_Selector_Go/pkg/errors"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ThroughputOptions 控制一次下载速度测试
type ThroughputOptions struct {
	ProxyPort int
	Timeout   time.Duration
	// ReadBody 为 false 时计时到收到响应头为止；为 true 时读完整个响应体再停止计时
	ReadBody bool
}

// SpeedTestResult 包含一次下载速度测试的结果
type SpeedTestResult struct {
	Bytes    int64         // 响应声明的 Content-Length，未声明时为 0
	Elapsed  time.Duration // 计时区间
	Speed    float64       // MB/s
	Declared bool          // 响应是否带有 Content-Length
}

// TestDownloadSpeed 通过候选 IP 代理下载一次 resourceURL 并计算速度
func TestDownloadSpeed(ctx context.Context, ip, resourceURL string, opts ThroughputOptions) (*SpeedTestResult, error) {
	if opts.ProxyPort == 0 {
		opts.ProxyPort = DefaultProxyPort
	}
	client, transport := newProxyClient(ip, opts.ProxyPort, opts.Timeout)
	defer transport.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, throughputError(ip, fmt.Errorf("创建请求失败: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	timeStart := time.Now()
	response, err := client.Do(req)
	if err != nil {
		return nil, throughputError(ip, fmt.Errorf("请求失败: %w", err))
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, throughputError(ip, fmt.Errorf("无效的状态码: %d", response.StatusCode))
	}

	if opts.ReadBody {
		if _, err := io.Copy(io.Discard, response.Body); err != nil {
			return nil, throughputError(ip, fmt.Errorf("读取响应失败: %w", err))
		}
	}
	elapsed := time.Since(timeStart)

	result := &SpeedTestResult{Elapsed: elapsed}
	if response.ContentLength > 0 {
		result.Bytes = response.ContentLength
		result.Declared = true
	}
	result.Speed = ComputeSpeed(result.Bytes, elapsed)
	return result, nil
}

// ComputeSpeed 按 字节 / 1024² / 秒 计算 MB/s
func ComputeSpeed(bytes int64, elapsed time.Duration) float64 {
	if bytes <= 0 || elapsed <= 0 {
		return 0.0
	}
	return (float64(bytes) / (1024 * 1024)) / elapsed.Seconds()
}

func throughputError(ip string, err error) error {
	return &pkgerrors.ProbeError{Address: ip, Stage: "throughput", Err: fmt.Errorf("%w: %v", pkgerrors.ErrProbeFailed, err)}
}
