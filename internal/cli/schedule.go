package cli

import (
	"Best_IP_Selector_Go/internal/metrics"
	"Best_IP_Selector_Go/internal/pipeline"
	"Best_IP_Selector_Go/internal/scheduler"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "按固定间隔重复运行",
	Long: `按固定间隔重复运行筛选并覆盖结果文件。每次运行互相独立，
上一次尚未结束时不会开始下一次。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, baseDir, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		interval := cfg.ScheduleInterval()
		if cmd.Flags().Changed("every") {
			interval, _ = cmd.Flags().GetDuration("every")
		}
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		recorder := metrics.NewRecorder()
		if metricsAddr != "" {
			go serveMetrics(metricsAddr, recorder)
		}

		s, err := scheduler.New(interval, func(ctx context.Context) error {
			report, err := pipeline.Run(ctx, cfg.Clone(), baseDir, pipeline.Hooks{
				Progress: func(message string) { log.Println(message) },
				Recorder: recorder,
			})
			if err != nil {
				return err
			}
			log.Printf("运行 %s: 合格 %d 个，已写入=%v", report.Summary.RunID, report.Summary.Admitted, report.Written)
			return nil
		})
		if err != nil {
			return err
		}
		if err := s.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		log.Println("收到退出信号，等待当前运行结束...")
		return s.Stop()
	},
}

func serveMetrics(addr string, recorder *metrics.Recorder) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Printf("指标地址: http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Printf("指标服务退出: %v", fmt.Errorf("%s: %w", addr, err))
	}
}

func init() {
	scheduleCmd.Flags().Duration("every", time.Hour, "运行间隔 (默认取配置中的 schedule_interval_min)")
	scheduleCmd.Flags().String("metrics-addr", "", "暴露 /metrics 的监听地址，例如 127.0.0.1:9100")
}
