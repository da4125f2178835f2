package cli

import (
	"Best_IP_Selector_Go/internal/metrics"
	"Best_IP_Selector_Go/internal/server"
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 Web 界面",
	Long: `启动 Web 界面。页面可以修改 config.yaml（保留注释），
通过 WebSocket 实时查看测试日志与进度，/metrics 提供 Prometheus 指标。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		noBrowser, _ := cmd.Flags().GetBool("no-browser")

		cfgPath, _ := cmd.Flags().GetString("config")
		if cfgPath == "" {
			cfgPath = defaultConfigPath
		}
		// 提前校验一次，避免页面打开后才发现配置无效
		if _, _, err := loadConfig(cmd); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(cfgPath, filepath.Dir(cfgPath), metrics.NewRecorder())
		return srv.Start(ctx, port, !noBrowser)
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "监听端口")
	serveCmd.Flags().Bool("no-browser", false, "不自动打开浏览器")
}
