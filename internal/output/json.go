package output

import (
	"Best_IP_Selector_Go/pkg/model"
	"fmt"

	"github.com/google/renameio/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonReport 是 JSON 导出文件的结构
type jsonReport struct {
	Summary model.RunSummary      `json:"summary"`
	Results []HumanReadableResult `json:"results"`
}

// WriteJSONFile 将最终结果列表和运行摘要写入到指定的 JSON 文件中
func WriteJSONFile(filePath string, summary model.RunSummary, results []model.Outcome) error {
	data, err := json.MarshalIndent(jsonReport{
		Summary: summary,
		Results: ToHumanReadable(results),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("无法将结果序列化为 JSON: %w", err)
	}

	if err := renameio.WriteFile(filePath, data, 0644); err != nil {
		return writeError(filePath, fmt.Errorf("无法写入 JSON 文件: %w", err))
	}
	return nil
}
