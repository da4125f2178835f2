package cli

import (
	"Best_IP_Selector_Go/internal/config"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// defaultConfigPath 由 main 在首次运行生成默认配置后设置
	defaultConfigPath = "config.yaml"
)

// rootCmd 不带子命令时直接执行一次筛选
var rootCmd = &cobra.Command{
	Use:   "ip-selector",
	Short: "通过延迟和下载速度筛选最优的 Cloudflare 代理 IP",
	Long: `通过延迟和下载速度筛选最优的 Cloudflare 代理 IP。

  每个候选 IP 都被当作 HTTP 代理：先连续请求 trace 地址测量平均延迟，
  延迟合格后再下载测速文件计算速度，最后按速度排序写入 best_ips.txt。

  常用命令:
    ip-selector                      使用 config.yaml 运行一次 (geo 模式)
    ip-selector --mode top           高阈值模式，只保留前 20 个
    ip-selector serve --port 8080    启动 Web 界面
    ip-selector schedule --every 1h  定时运行`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runOnce,
}

// Execute 执行根命令。cfgPath 为默认配置文件路径
func Execute(cfgPath string) {
	if cfgPath != "" {
		defaultConfigPath = cfgPath
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "配置文件路径 (默认为可执行文件目录下的 config.yaml)")
	rootCmd.PersistentFlags().StringP("mode", "m", "", "运行模式: geo 或 top")
	rootCmd.PersistentFlags().Int("concurrency", 0, "同时测试的候选 IP 数量")
	rootCmd.PersistentFlags().Int("top", -1, "只保留速度最快的前 N 个 (0 表示全部)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "结果文件路径")
	rootCmd.PersistentFlags().String("ip-version", "", "候选 IP 版本: ipv4 或 ipv6")
	rootCmd.PersistentFlags().Bool("refresh", false, "重新下载资源文件")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "打印每个失败的探测")

	rootCmd.Flags().Bool("no-progress", false, "不显示进度条")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ip-selector %s\n", version)
	},
}

// loadConfig 加载配置文件并应用命令行覆盖，返回配置与用于解析相对路径的目录
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("读取配置文件失败: %w", err)
	}

	mode, _ := cmd.Flags().GetString("mode")
	cfg, err := config.ParseWithMode(data, mode)
	if err != nil {
		return nil, "", fmt.Errorf("加载配置文件失败: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("top") {
		cfg.TopN, _ = flags.GetInt("top")
	}
	if flags.Changed("output") {
		cfg.OutputFile, _ = flags.GetString("output")
	}
	if flags.Changed("ip-version") {
		cfg.IPVersion, _ = flags.GetString("ip-version")
	}
	if flags.Changed("refresh") {
		cfg.RefreshAssets, _ = flags.GetBool("refresh")
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	log.Printf("配置加载成功: 模式=%s, 并发=%d, 延迟上限=%.0fms, 速度下限=%.0fMB/s", cfg.Mode, cfg.Concurrency, cfg.MaxLatency, cfg.MinSpeed)
	return cfg, filepath.Dir(path), nil
}
