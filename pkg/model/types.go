package model

import (
	"strings"
	"time"
)

// Target 是每个候选代理都要去请求的域名与资源路径，一次运行内只读共享
type Target struct {
	Domain string
	Path   string // 不含前导 '/'
}

// ResourceURL 返回测速文件的完整地址
func (t Target) ResourceURL() string {
	return "http://" + t.Domain + "/" + strings.TrimPrefix(t.Path, "/")
}

// TraceURL 返回延迟探测使用的 trace 地址
func (t Target) TraceURL(tracePath string) string {
	if !strings.HasPrefix(tracePath, "/") {
		tracePath = "/" + tracePath
	}
	return "http://" + t.Domain + tracePath
}

// LatencyResult 是一次延迟探测的结果。Millis 为 0 表示未测得
type LatencyResult struct {
	Millis float64
	Colo   string // 数据中心代码，可能为空
}

// Outcome 是通过延迟与速度两道门槛的候选 IP 的最终记录，创建后不再修改
type Outcome struct {
	Address    string  `json:"address"`
	Latency    float64 `json:"latency_ms"`
	Throughput float64 `json:"speed_mbps"` // MB/s
	Location   string  `json:"location,omitempty"`
	Colo       string  `json:"colo,omitempty"`
	Seq        int     `json:"-"` // 打乱后的派发序号，用于同速排序
}

// RunSummary 汇总一次运行的统计信息
type RunSummary struct {
	RunID            string        `json:"run_id"`
	Total            int           `json:"total"`
	Evaluated        int           `json:"evaluated"`
	LatencyPassed    int           `json:"latency_passed"`
	Admitted         int           `json:"admitted"`
	EnrichmentFailed int           `json:"enrichment_failed"`
	Duration         time.Duration `json:"duration_ns"`
}
