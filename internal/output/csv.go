package output

import (
	"Best_IP_Selector_Go/pkg/model"
	"bytes"
	"encoding/csv"
	"fmt"
	"log"
	"strconv"

	"github.com/google/renameio/v2"
)

// WriteCSVFile 将最终结果列表写入到指定的 CSV 文件中
func WriteCSVFile(filePath string, results []model.Outcome) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	// 写入表头
	header := []string{
		"Rank",
		"IP Address",
		"Delay (ms)",
		"Colo",
		"Location",
		"Download Speed (MB/s)",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入 CSV 表头失败: %w", err)
	}

	// 写入数据行
	for _, r := range ToHumanReadable(results) {
		row := []string{
			strconv.Itoa(r.Rank),
			r.Address,
			fmt.Sprintf("%.2f", r.DelayMS),
			r.Colo,
			r.Location,
			fmt.Sprintf("%.2f", r.DownloadSpeedMBps),
		}
		if err := writer.Write(row); err != nil {
			// 记录错误但继续尝试写入其他行
			log.Printf("警告: 写入 CSV 行失败: %v", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("生成 CSV 失败: %w", err)
	}

	if err := renameio.WriteFile(filePath, buf.Bytes(), 0644); err != nil {
		return writeError(filePath, fmt.Errorf("无法写入 CSV 文件: %w", err))
	}
	return nil
}
