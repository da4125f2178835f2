package datasource

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// HTTPError 表示下载时服务器返回了非 200 状态码
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("bad status %d for %s", e.StatusCode, e.URL)
}

// Fetcher 负责下载候选列表等资源文件，带重试
type Fetcher struct {
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	refresh    bool
}

// FetcherConfig 下载器配置
type FetcherConfig struct {
	Timeout    time.Duration
	MaxRetries int           // 总尝试次数
	RetryDelay time.Duration // 两次尝试之间的等待
	Refresh    bool          // 为 true 时即使文件已存在也重新下载
}

// NewFetcher 创建下载器
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Fetcher{
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		refresh:    cfg.Refresh,
	}
}

// EnsureAll 确保 urls 中的每个文件都存在于 dir 下，缺失的文件会被下载。
// 单个文件下载失败只记录日志，返回所有失败文件名组成的错误
func (f *Fetcher) EnsureAll(ctx context.Context, dir string, urls map[string]string) error {
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		if err := f.Ensure(ctx, urls[name], filepath.Join(dir, name)); err != nil {
			log.Printf("下载 %s 失败: %v", name, err)
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("以下文件下载失败: %v", failed)
	}
	return nil
}

// Ensure 文件已存在时直接返回，否则下载到 filePath，失败时按配置重试
func (f *Fetcher) Ensure(ctx context.Context, url, filePath string) error {
	if !f.refresh {
		if _, err := os.Stat(filePath); err == nil {
			return nil
		}
	}
	log.Printf("从服务器下载 %s", filePath)

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}

		data, err := f.download(ctx, url)
		if err == nil {
			return writeAsset(filePath, data)
		}
		lastErr = err
		log.Printf("下载 %s 失败: %v，重试(%d/%d)", filePath, err, attempt, f.maxRetries)

		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("尝试 %d 次后仍失败: %w", f.maxRetries, lastErr)
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}
	return io.ReadAll(resp.Body)
}

// writeAsset 创建所有父目录后写入文件
func writeAsset(filePath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("写入文件失败: %w", err)
	}
	return nil
}
