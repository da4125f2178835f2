package output

import (
	"Best_IP_Selector_Go/internal/config"
	pkgerrors "Best_IP_Selector_Go/pkg/errors"
	"Best_IP_Selector_Go/pkg/model"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// ErrNoResults 表示本次运行没有任何合格的 IP。这不是错误，结果文件不会被写入
var ErrNoResults = errors.New("没有合格的 IP")

// LineFormat 控制 best_ips.txt 中每一行的格式
type LineFormat struct {
	Port        int    // 0 表示不输出端口
	Tag         string // 不使用地理位置时的固定标签
	UseLocation bool
	ShowSpeed   bool
}

// LineFormatFromConfig 从配置中提取行格式
func LineFormatFromConfig(cfg *config.Config) LineFormat {
	return LineFormat{
		Port:        cfg.OutputPort,
		Tag:         cfg.Tag,
		UseLocation: cfg.Enrichment,
		ShowSpeed:   cfg.ShowSpeed,
	}
}

// FormatLine 返回 address[:port]#<位置或标签><速度> 形式的一行
func FormatLine(o model.Outcome, f LineFormat) string {
	var b strings.Builder
	if f.Port > 0 {
		b.WriteString(net.JoinHostPort(o.Address, strconv.Itoa(f.Port)))
	} else {
		b.WriteString(o.Address)
	}
	b.WriteByte('#')
	if f.UseLocation {
		b.WriteString(o.Location)
	} else {
		b.WriteString(f.Tag)
	}
	if f.ShowSpeed {
		b.WriteString(fmt.Sprintf("%.0f", o.Throughput))
	}
	return b.String()
}

// FormatLines 把已排序的结果逐行格式化并以 \n 连接，末尾不带换行
func FormatLines(outcomes []model.Outcome, f LineFormat) string {
	lines := make([]string, len(outcomes))
	for i, o := range outcomes {
		lines[i] = FormatLine(o, f)
	}
	return strings.Join(lines, "\n")
}

// WriteBestIPs 原子地覆盖写入结果文件。没有结果时返回 ErrNoResults 且不改动已有文件
func WriteBestIPs(path string, outcomes []model.Outcome, f LineFormat) error {
	if len(outcomes) == 0 {
		return ErrNoResults
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return writeError(path, err)
		}
	}
	if err := renameio.WriteFile(path, []byte(FormatLines(outcomes, f)), 0644); err != nil {
		return writeError(path, err)
	}
	return nil
}

func writeError(path string, err error) error {
	return &pkgerrors.WriteError{Path: path, Err: fmt.Errorf("%w: %v", pkgerrors.ErrWriteFailed, err)}
}

// ExportPath 返回与结果文件同名、扩展名为 ext 的导出路径，例如 best_ips.txt -> best_ips.json
func ExportPath(outputFile, ext string) string {
	return strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ext
}
