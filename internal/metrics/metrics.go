package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ip_selector"

// Recorder 记录一次或多次运行的探测指标。所有方法可以并发调用，nil Recorder 上的调用为空操作
type Recorder struct {
	registry   *prometheus.Registry
	evaluated  *prometheus.CounterVec
	inFlight   prometheus.Gauge
	latency    prometheus.Histogram
	throughput prometheus.Histogram
	runs       prometheus.Counter
	lastRun    prometheus.Gauge
}

// NewRecorder 在独立的 registry 上创建所有指标
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		evaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_evaluated_total",
			Help:      "Candidates that finished the probe pipeline, by the stage they stopped at.",
		}, []string{"stage"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidates_in_flight",
			Help:      "Candidates currently being probed.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_milliseconds",
			Help:      "Mean round-trip time of successful latency probes.",
			Buckets:   []float64{25, 50, 100, 200, 300, 500, 750, 1000, 2000},
		}),
		throughput: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throughput_megabytes_per_second",
			Help:      "Measured download speed of candidates that passed the latency gate.",
			Buckets:   []float64{1, 5, 10, 30, 60, 100, 250, 500, 1000},
		}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed benchmark runs.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_admitted",
			Help:      "Admitted candidates in the most recent run.",
		}),
	}
	r.registry.MustRegister(r.evaluated, r.inFlight, r.latency, r.throughput, r.runs, r.lastRun)
	return r
}

func (r *Recorder) UnitStarted() {
	if r == nil {
		return
	}
	r.inFlight.Inc()
}

func (r *Recorder) UnitFinished(stage string) {
	if r == nil {
		return
	}
	r.inFlight.Dec()
	r.evaluated.WithLabelValues(stage).Inc()
}

func (r *Recorder) ObserveLatency(ms float64) {
	if r == nil {
		return
	}
	r.latency.Observe(ms)
}

func (r *Recorder) ObserveThroughput(mbps float64) {
	if r == nil {
		return
	}
	r.throughput.Observe(mbps)
}

// RunFinished 记录一次完整运行
func (r *Recorder) RunFinished(admitted int) {
	if r == nil {
		return
	}
	r.runs.Inc()
	r.lastRun.Set(float64(admitted))
}

// Registry 返回底层 registry，供测试或额外的 collector 使用
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler 返回 /metrics 的 HTTP 处理器
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
