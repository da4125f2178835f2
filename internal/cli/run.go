package cli

import (
	"Best_IP_Selector_Go/internal/engine"
	"Best_IP_Selector_Go/internal/metrics"
	"Best_IP_Selector_Go/internal/pipeline"
	"Best_IP_Selector_Go/internal/tester"
	"Best_IP_Selector_Go/pkg/model"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
)

const barTemplate = `{{counters . }} {{bar . }} {{percent . }} {{string . "admitted"}} {{string . "eta"}}`

// runOnce 是根命令的执行逻辑
func runOnce(cmd *cobra.Command, args []string) error {
	log.Println("--- 以命令行模式运行 ---")
	cfg, baseDir, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober := tester.NewHTTPProber(cfg)
	prober.Verbose = verbose
	recorder := metrics.NewRecorder()

	var bar *pb.ProgressBar
	hooks := pipeline.Hooks{
		Progress: func(message string) { log.Println(message) },
		Prober:   prober,
		Recorder: recorder,
	}
	if !noProgress {
		hooks.Started = func(total int) {
			bar = pb.New(total)
			bar.SetTemplateString(barTemplate)
			bar.Start()
		}
		hooks.Tick = func(p engine.Progress) {
			bar.SetCurrent(int64(p.Done))
			bar.Set("admitted", fmt.Sprintf("合格 %d", p.Admitted))
			bar.Set("eta", "剩余 "+p.ETA.Round(time.Second).String())
		}
		// 进度条启用时只在日志里保留关键信息
		hooks.Progress = func(message string) {
			if bar == nil {
				log.Println(message)
			}
		}
	}
	hooks.Finished = func(s model.RunSummary) {
		if bar != nil {
			bar.Finish()
			bar = nil
		}
		log.Printf("运行 %s 完成: 共 %d 个候选，通过延迟 %d 个，合格 %d 个，地理位置失败 %d 个，耗时 %s",
			s.RunID, s.Total, s.LatencyPassed, s.Admitted, s.EnrichmentFailed, s.Duration.Round(time.Millisecond))
	}

	report, err := pipeline.Run(ctx, cfg, baseDir, hooks)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	if report.Written {
		log.Printf("结果已写入 %s", report.OutputFile)
	} else {
		log.Printf("没有合格的 IP，%s 保持不变", report.OutputFile)
	}
	log.Println("--- 所有任务已完成 ---")
	return nil
}
