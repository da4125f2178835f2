package server

import (
	"Best_IP_Selector_Go/internal/config"
	"Best_IP_Selector_Go/internal/metrics"
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os/exec"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

//go:embed web
var embeddedFS embed.FS

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Server 是 Web 模式的 HTTP 服务
type Server struct {
	cfgPath  string
	baseDir  string
	recorder *metrics.Recorder
	busy     atomic.Bool // 同一时间只允许一次运行

	// runner 执行一次筛选，测试中可以替换
	runner runFunc
}

// New 创建服务。recorder 可以为 nil
func New(cfgPath, baseDir string, recorder *metrics.Recorder) *Server {
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	return &Server{cfgPath: cfgPath, baseDir: baseDir, recorder: recorder, runner: runPipeline}
}

// Handler 返回注册了所有路由的 http.Handler
func (s *Server) Handler() http.Handler {
	// Create a sub-filesystem to remove the "web" prefix
	staticFS, err := fs.Sub(embeddedFS, "web")
	if err != nil {
		log.Fatalf("Failed to create sub filesystem: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		content, err := fs.ReadFile(staticFS, "index.html")
		if err != nil {
			http.Error(w, "index.html not found", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "index.html", time.Time{}, bytes.NewReader(content))
	})
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/ws/run", s.handleWebSocket)
	mux.Handle("/metrics", s.recorder.Handler())
	return mux
}

// Start 启动 Web 服务器，ctx 取消后优雅退出
func (s *Server) Start(ctx context.Context, port int, browser bool) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("服务器正在启动，请在浏览器中打开 http://127.0.0.1:%d", port)
	if browser {
		// 尝试在默认浏览器中打开 URL
		go openBrowser(fmt.Sprintf("http://127.0.0.1:%d", port))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("服务器启动失败: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Println("服务器已停止")
	return nil
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := config.LoadConfig(s.cfgPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to load config: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cfg)
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		var newValues map[string]interface{}
		if err := json.Unmarshal(body, &newValues); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := saveConfigWithComments(s.cfgPath, newValues); err != nil {
			var invalid *invalidConfigError
			if errors.As(err, &invalid) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, fmt.Sprintf("Failed to save config: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// openBrowser tries to open the URL in a default browser.
func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}
	if err != nil {
		log.Printf("无法自动打开浏览器: %v\n请手动打开 %s", err, url)
	}
}
