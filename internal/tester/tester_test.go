package tester

import (
	"Best_IP_Selector_Go/internal/config"
	pkgerrors "Best_IP_Selector_Go/pkg/errors"
	"Best_IP_Selector_Go/pkg/model"
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newForwardProxy 启动一个充当候选 IP 的 HTTP 代理，返回其地址与端口
func newForwardProxy(t *testing.T, handler http.HandlerFunc) (string, int) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	addr := srv.Listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestProxyURL(t *testing.T) {
	tests := []struct {
		ip   string
		port int
		want string
	}{
		{"1.1.1.1", 80, "http://1.1.1.1:80"},
		{"2606:4700::1", 80, "http://[2606:4700::1]:80"},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := ProxyURL(tt.ip, tt.port).String(); got != tt.want {
				t.Errorf("ProxyURL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLatencyThroughProxy(t *testing.T) {
	var calls int32
	ip, port := newForwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Host != "example.com" || r.URL.Path != "/cdn-cgi/trace" {
			http.Error(w, "unexpected request "+r.Host+r.URL.Path, http.StatusBadRequest)
			return
		}
		w.Write([]byte("fl=1\nip=1.1.1.1\ncolo=SJC\n"))
	})

	target := model.Target{Domain: "example.com", Path: "file.bin"}
	result, err := TestLatency(context.Background(), ip, target.TraceURL("/cdn-cgi/trace"), LatencyOptions{
		ProxyPort: port,
		Count:     3,
		Divisor:   3,
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("TestLatency() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("proxy saw %d requests, want 3", got)
	}
	if result.Millis < 0 || result.Millis != RoundLatency(result.Millis) {
		t.Errorf("latency = %v, want non-negative with two decimals", result.Millis)
	}
	if result.Colo != "SJC" {
		t.Errorf("colo = %q, want SJC", result.Colo)
	}
}

func TestLatencyDivisorIndependentOfCount(t *testing.T) {
	ip, port := newForwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("ok"))
	})

	result, err := TestLatency(context.Background(), ip, "http://example.com/cdn-cgi/trace", LatencyOptions{
		ProxyPort: port,
		Count:     2,
		Divisor:   1,
	})
	if err != nil {
		t.Fatalf("TestLatency() error = %v", err)
	}
	// 两次各 20ms 以上，除数为 1 时平均值至少 40ms
	if result.Millis < 40 {
		t.Errorf("latency = %v, want >= 40", result.Millis)
	}
}

func TestMeanLatency(t *testing.T) {
	tests := []struct {
		name    string
		totalMS int64
		divisor float64
		want    float64
	}{
		{"three samples of 100ms", 300, 3, 100.00},
		{"divisor smaller than count", 300, 2, 150.00},
		{"divisor larger than count", 300, 10, 30.00},
		{"repeating decimal", 100, 3, 33.33},
		{"rounds half up", 801, 8, 100.13},
		{"rounds up", 1001, 3, 333.67},
		{"zero divisor", 300, 0, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MeanLatency(tt.totalMS, tt.divisor); got != tt.want {
				t.Errorf("MeanLatency(%d, %v) = %v, want %v", tt.totalMS, tt.divisor, got, tt.want)
			}
		})
	}
}

func TestLatencyDelaySpacesRequests(t *testing.T) {
	ip, port := newForwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	start := time.Now()
	_, err := TestLatency(context.Background(), ip, "http://example.com/cdn-cgi/trace", LatencyOptions{
		ProxyPort: port,
		Count:     3,
		Divisor:   3,
		Delay:     50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("TestLatency() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("3 requests with 50ms spacing took %v, want >= 100ms", elapsed)
	}
}

func TestLatencyFailureAbortsSamples(t *testing.T) {
	var calls int32
	ip, port := newForwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 2 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	})

	_, err := TestLatency(context.Background(), ip, "http://example.com/cdn-cgi/trace", LatencyOptions{
		ProxyPort: port,
		Count:     5,
		Divisor:   5,
	})
	if !errors.Is(err, pkgerrors.ErrProbeFailed) {
		t.Fatalf("TestLatency() error = %v, want ErrProbeFailed", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("proxy saw %d requests, want 2", got)
	}
}

func TestHTTPProberReportsZeroOnFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ProxyPort = closedPort(t)
	cfg.LatencyTimeoutMS = 500
	cfg.ThroughputTimeoutMS = 500
	p := NewHTTPProber(cfg)

	target := model.Target{Domain: "example.com", Path: "file.bin"}
	if got := p.MeasureLatency(context.Background(), target, "127.0.0.1"); got.Millis != 0.0 {
		t.Errorf("MeasureLatency() = %v, want 0", got.Millis)
	}
	if got := p.MeasureThroughput(context.Background(), target, "127.0.0.1"); got != 0.0 {
		t.Errorf("MeasureThroughput() = %v, want 0", got)
	}
}

func TestHTTPProberUndeclaredLengthLogsOnlyWhenVerbose(t *testing.T) {
	ip, port := newForwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		w.Write([]byte("some bytes"))
	})
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	target := model.Target{Domain: "example.com", Path: "file.bin"}
	for _, verbose := range []bool{false, true} {
		buf.Reset()
		p := &HTTPProber{Throughput: ThroughputOptions{ProxyPort: port, Timeout: 5 * time.Second}, Verbose: verbose}
		if got := p.MeasureThroughput(context.Background(), target, ip); got != 0.0 {
			t.Errorf("verbose=%v: MeasureThroughput() = %v, want 0", verbose, got)
		}
		if logged := strings.Contains(buf.String(), "Content-Length"); logged != verbose {
			t.Errorf("verbose=%v: logged = %v, output %q", verbose, logged, buf.String())
		}
	}
}

func TestComputeSpeed(t *testing.T) {
	tests := []struct {
		name    string
		bytes   int64
		elapsed time.Duration
		want    float64
	}{
		{"60MB in 1s", 60 * 1024 * 1024, time.Second, 60.0},
		{"10MB in 1s", 10 * 1024 * 1024, time.Second, 10.0},
		{"1MB in 500ms", 1024 * 1024, 500 * time.Millisecond, 2.0},
		{"unknown length", 0, time.Second, 0.0},
		{"zero elapsed", 1024, 0, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeSpeed(tt.bytes, tt.elapsed); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ComputeSpeed(%d, %v) = %v, want %v", tt.bytes, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestDownloadSpeedThroughProxy(t *testing.T) {
	payload := strings.Repeat("x", 256*1024)
	ip, port := newForwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Host != "example.com" || r.URL.Path != "/file.bin" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write([]byte(payload))
	})

	target := model.Target{Domain: "example.com", Path: "file.bin"}
	for _, readBody := range []bool{false, true} {
		result, err := TestDownloadSpeed(context.Background(), ip, target.ResourceURL(), ThroughputOptions{
			ProxyPort: port,
			Timeout:   5 * time.Second,
			ReadBody:  readBody,
		})
		if err != nil {
			t.Fatalf("TestDownloadSpeed(readBody=%v) error = %v", readBody, err)
		}
		if !result.Declared || result.Bytes != int64(len(payload)) {
			t.Errorf("readBody=%v: bytes = %d declared = %v", readBody, result.Bytes, result.Declared)
		}
		if result.Speed <= 0 {
			t.Errorf("readBody=%v: speed = %v, want > 0", readBody, result.Speed)
		}
	}
}

func TestDownloadSpeedMatchesElapsed(t *testing.T) {
	const size = 1024 * 1024
	ip, port := newForwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Length", strconv.Itoa(size))
		w.Write(make([]byte, size))
	})

	result, err := TestDownloadSpeed(context.Background(), ip, "http://example.com/file.bin", ThroughputOptions{
		ProxyPort: port,
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("TestDownloadSpeed() error = %v", err)
	}
	if result.Elapsed < 100*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 100ms", result.Elapsed)
	}
	want := float64(size) / (1024 * 1024) / result.Elapsed.Seconds()
	if math.Abs(result.Speed-want) > 1e-9 {
		t.Errorf("speed = %v, want %v", result.Speed, want)
	}
	// 1MB 至少花了 100ms，速度不可能超过 10MB/s
	if result.Speed <= 0 || result.Speed > 10 {
		t.Errorf("speed = %v, want in (0, 10]", result.Speed)
	}
}

func TestDownloadSpeedWithoutContentLength(t *testing.T) {
	ip, port := newForwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush() // 强制 chunked 编码
		w.Write([]byte("some bytes"))
	})

	result, err := TestDownloadSpeed(context.Background(), ip, "http://example.com/file.bin", ThroughputOptions{ProxyPort: port})
	if err != nil {
		t.Fatalf("TestDownloadSpeed() error = %v", err)
	}
	if result.Declared || result.Speed != 0.0 {
		t.Errorf("result = %+v, want undeclared with speed 0", result)
	}
}

func TestDownloadSpeedRejectsErrorStatus(t *testing.T) {
	ip, port := newForwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	_, err := TestDownloadSpeed(context.Background(), ip, "http://example.com/file.bin", ThroughputOptions{ProxyPort: port})
	var probeErr *pkgerrors.ProbeError
	if !errors.As(err, &probeErr) || probeErr.Stage != "throughput" {
		t.Fatalf("TestDownloadSpeed() error = %v, want throughput ProbeError", err)
	}
}
