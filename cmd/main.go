package main

import (
	"Best_IP_Selector_Go/internal/cli"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

//go:embed default_config.yaml
var defaultConfigData []byte

// ensureFile 检查文件是否存在于可执行文件目录，如果不存在，则使用提供的默认数据创建它。
func ensureFile(dir, fileName string, defaultData []byte) (string, error) {
	filePath := filepath.Join(dir, fileName)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := os.WriteFile(filePath, defaultData, 0644); err != nil {
			return "", fmt.Errorf("无法写入默认文件 %s: %w", fileName, err)
		}
		log.Printf("首次运行，已在 %s 生成默认 %s 文件", dir, fileName)
	} else if err != nil {
		return "", fmt.Errorf("检查文件 %s 时出错: %w", fileName, err)
	}
	return filePath, nil
}

func main() {
	exePath, err := os.Executable()
	if err != nil {
		log.Fatalf("无法获取可执行文件路径: %v", err)
	}
	cfgPath, err := ensureFile(filepath.Dir(exePath), "config.yaml", defaultConfigData)
	if err != nil {
		log.Fatalf("初始化配置文件失败: %v", err)
	}
	cli.Execute(cfgPath)
}
