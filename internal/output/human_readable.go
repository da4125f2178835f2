package output

import "Best_IP_Selector_Go/pkg/model"

// HumanReadableResult 定义了一个对人类友好的、用于导出文件的数据结构
type HumanReadableResult struct {
	Rank              int     `json:"Rank"`
	Address           string  `json:"Address"`
	DelayMS           float64 `json:"DelayMS"` // 延迟 (毫秒)
	Colo              string  `json:"Colo,omitempty"`
	Location          string  `json:"Location,omitempty"`
	DownloadSpeedMBps float64 `json:"DownloadSpeedMBps"` // 下载速度 (MB/s)
}

// ToHumanReadable 将引擎的排序结果转换为对人类友好的格式，Rank 从 1 开始
func ToHumanReadable(results []model.Outcome) []HumanReadableResult {
	humanResults := make([]HumanReadableResult, len(results))
	for i, r := range results {
		humanResults[i] = HumanReadableResult{
			Rank:              i + 1,
			Address:           r.Address,
			DelayMS:           r.Latency,
			Colo:              r.Colo,
			Location:          r.Location,
			DownloadSpeedMBps: r.Throughput,
		}
	}
	return humanResults
}
