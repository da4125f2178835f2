package server

import (
	"Best_IP_Selector_Go/internal/config"
	"Best_IP_Selector_Go/internal/engine"
	"Best_IP_Selector_Go/internal/output"
	"Best_IP_Selector_Go/internal/pipeline"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// progressInterval 两次进度推送之间的最小间隔
const progressInterval = 200 * time.Millisecond

type runFunc func(ctx context.Context, cfg *config.Config, baseDir string, hooks pipeline.Hooks) (*pipeline.Report, error)

var runPipeline runFunc = pipeline.Run

// wsMessage 是推送给前端的消息，Type 为 log、progress、result、summary 或 error
type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade failed:", err)
		return
	}
	defer conn.Close()

	if !s.busy.CompareAndSwap(false, true) {
		conn.WriteJSON(wsMessage{Type: "error", Payload: "已有测试正在运行，请稍后再试"})
		return
	}
	defer s.busy.Store(false)

	// 1. 等待客户端发来的覆盖配置
	_, msg, err := conn.ReadMessage()
	if err != nil {
		log.Println("WebSocket read for config failed:", err)
		return
	}
	runConfig, err := s.loadRunConfig(msg)
	if err != nil {
		conn.WriteJSON(wsMessage{Type: "error", Payload: err.Error()})
		return
	}

	// 2. 客户端断开时取消本次运行
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				log.Printf("Client disconnected: %v", err)
				return
			}
		}
	}()

	// 3. 唯一的写协程，所有消息都经由 writeChan 串行写出
	writeChan := make(chan wsMessage, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range writeChan {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("WebSocket write error: %v", err)
				cancel()
				// 继续消费，避免发送方阻塞
				for range writeChan {
				}
				return
			}
		}
	}()
	send := func(msg wsMessage) {
		select {
		case writeChan <- msg:
		case <-ctx.Done():
		}
	}

	throttle := &progressThrottle{interval: progressInterval}
	hooks := pipeline.Hooks{
		Progress: func(message string) {
			send(wsMessage{Type: "log", Payload: message})
		},
		Tick: func(p engine.Progress) {
			throttle.push(p, time.Now(), func(p engine.Progress) {
				send(wsMessage{Type: "progress", Payload: p})
			})
		},
		Recorder: s.recorder,
	}

	// 4. 在当前协程中运行
	report, err := s.runner(ctx, runConfig, s.baseDir, hooks)
	if err != nil {
		errMsg := fmt.Sprintf("引擎运行时出错: %v", err)
		log.Println(errMsg)
		send(wsMessage{Type: "error", Payload: errMsg})
	} else {
		send(wsMessage{Type: "result", Payload: output.ToHumanReadable(report.Outcomes)})
		send(wsMessage{Type: "summary", Payload: report.Summary})
	}

	// 5. 等待写协程发完最后的消息再关闭连接
	send(wsMessage{Type: "log", Payload: "--- 任务完成 ---"})
	close(writeChan)
	<-writerDone
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// progressThrottle 限制进度推送频率，并保证推送出去的 Done 单调递增。
// 最后一次 (Done == Total) 总会推送
type progressThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	lastSent time.Time
	lastDone int
}

// push 在持锁状态下调用 send，多个 worker 的推送按 Done 顺序写出
func (t *progressThrottle) push(p engine.Progress, now time.Time, send func(engine.Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Done <= t.lastDone {
		return
	}
	if p.Done < p.Total && now.Sub(t.lastSent) < t.interval {
		return
	}
	t.lastDone = p.Done
	t.lastSent = now
	send(p)
}

// loadRunConfig 以配置文件为基础，用客户端发来的字段覆盖，得到本次运行的配置
func (s *Server) loadRunConfig(msg []byte) (*config.Config, error) {
	var head struct {
		Mode string `json:"mode"`
	}
	if len(msg) > 0 {
		if err := json.Unmarshal(msg, &head); err != nil {
			return nil, fmt.Errorf("配置格式无效: %w", err)
		}
	}
	data, err := os.ReadFile(s.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("加载基础配置失败: %w", err)
	}
	// 客户端切换模式时重新套用对应的预设
	runConfig, err := config.ParseWithMode(data, head.Mode)
	if err != nil {
		return nil, fmt.Errorf("加载基础配置失败: %w", err)
	}
	if len(msg) > 0 {
		if err := json.Unmarshal(msg, runConfig); err != nil {
			return nil, fmt.Errorf("配置格式无效: %w", err)
		}
	}
	if err := runConfig.Validate(); err != nil {
		return nil, err
	}
	return runConfig, nil
}
