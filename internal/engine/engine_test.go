package engine

import (
	pkgerrors "Best_IP_Selector_Go/pkg/errors"
	"Best_IP_Selector_Go/pkg/model"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProber struct {
	latency    map[string]float64
	throughput map[string]float64
	hold       time.Duration

	mu              sync.Mutex
	throughputCalls map[string]int
	inFlight        int32
	maxInFlight     int32
}

func newFakeProber(latency, throughput map[string]float64) *fakeProber {
	return &fakeProber{latency: latency, throughput: throughput, throughputCalls: make(map[string]int)}
}

func (p *fakeProber) enter() func() {
	n := atomic.AddInt32(&p.inFlight, 1)
	for {
		cur := atomic.LoadInt32(&p.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&p.maxInFlight, cur, n) {
			break
		}
	}
	time.Sleep(p.hold)
	return func() { atomic.AddInt32(&p.inFlight, -1) }
}

func (p *fakeProber) MeasureLatency(ctx context.Context, target model.Target, ip string) model.LatencyResult {
	defer p.enter()()
	return model.LatencyResult{Millis: p.latency[ip]}
}

func (p *fakeProber) MeasureThroughput(ctx context.Context, target model.Target, ip string) float64 {
	defer p.enter()()
	p.mu.Lock()
	p.throughputCalls[ip]++
	p.mu.Unlock()
	return p.throughput[ip]
}

type fakeLocator struct {
	codes map[string]string
}

func (l *fakeLocator) Locate(ctx context.Context, ip string) (string, error) {
	if code, ok := l.codes[ip]; ok {
		return code, nil
	}
	return "", fmt.Errorf("%w: all services failed", pkgerrors.ErrLocationUnavailable)
}

var target = model.Target{Domain: "example.com", Path: "file.bin"}

func geoOptions() Options {
	return Options{Concurrency: 200, MaxLatency: 1000, MinSpeed: 30}
}

func TestLatencyGateShortCircuits(t *testing.T) {
	prober := newFakeProber(
		map[string]float64{"1.1.1.1": 100, "2.2.2.2": 0, "3.3.3.3": 1000.01, "4.4.4.4": 1000},
		map[string]float64{"1.1.1.1": 60, "2.2.2.2": 60, "3.3.3.3": 60, "4.4.4.4": 60},
	)
	res, err := New(geoOptions(), prober, nil, nil).Run(context.Background(), target, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"}, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, ip := range []string{"2.2.2.2", "3.3.3.3"} {
		if n := prober.throughputCalls[ip]; n != 0 {
			t.Errorf("throughput probe called %d times for %s", n, ip)
		}
	}
	for _, ip := range []string{"1.1.1.1", "4.4.4.4"} {
		if n := prober.throughputCalls[ip]; n != 1 {
			t.Errorf("throughput probe called %d times for %s, want 1", n, ip)
		}
	}
	if res.Summary.LatencyPassed != 2 || res.Summary.Admitted != 2 {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestThroughputGate(t *testing.T) {
	prober := newFakeProber(
		map[string]float64{"1.1.1.1": 100, "2.2.2.2": 100, "3.3.3.3": 100},
		map[string]float64{"1.1.1.1": 60.0, "2.2.2.2": 10.0, "3.3.3.3": 30.0},
	)
	res, err := New(geoOptions(), prober, nil, nil).Run(context.Background(), target, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Outcomes) != 1 || res.Outcomes[0].Address != "1.1.1.1" || res.Outcomes[0].Throughput != 60.0 {
		t.Fatalf("outcomes = %+v, want only 1.1.1.1 at 60", res.Outcomes)
	}
	for _, o := range res.Outcomes {
		if o.Throughput <= 30 {
			t.Errorf("outcome %s at %.1f MB/s admitted at threshold 30", o.Address, o.Throughput)
		}
	}
}

func TestSortedAndTruncated(t *testing.T) {
	latency := make(map[string]float64)
	throughput := make(map[string]float64)
	var candidates []string
	for i := 0; i < 50; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i)
		candidates = append(candidates, ip)
		latency[ip] = 50
		throughput[ip] = float64(31 + (i*37)%100)
	}

	for _, topN := range []int{0, 20, 100} {
		t.Run(fmt.Sprintf("top%d", topN), func(t *testing.T) {
			opts := geoOptions()
			opts.TopN = topN
			res, err := New(opts, newFakeProber(latency, throughput), nil, nil).Run(context.Background(), target, candidates, nil, nil)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if topN > 0 && len(res.Outcomes) > topN {
				t.Errorf("len = %d, exceeds top %d", len(res.Outcomes), topN)
			}
			if topN == 0 && len(res.Outcomes) != 50 {
				t.Errorf("len = %d, want 50", len(res.Outcomes))
			}
			for i := 1; i < len(res.Outcomes); i++ {
				if res.Outcomes[i-1].Throughput < res.Outcomes[i].Throughput {
					t.Fatalf("not sorted at %d: %v < %v", i, res.Outcomes[i-1].Throughput, res.Outcomes[i].Throughput)
				}
			}
		})
	}
}

func TestConcurrencyCap(t *testing.T) {
	latency := make(map[string]float64)
	throughput := make(map[string]float64)
	var candidates []string
	for i := 0; i < 100; i++ {
		ip := fmt.Sprintf("10.0.1.%d", i)
		candidates = append(candidates, ip)
		latency[ip] = 10
		throughput[ip] = 100
	}
	prober := newFakeProber(latency, throughput)
	prober.hold = 2 * time.Millisecond

	opts := geoOptions()
	opts.Concurrency = 7
	if _, err := New(opts, prober, nil, nil).Run(context.Background(), target, candidates, nil, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := atomic.LoadInt32(&prober.maxInFlight); got > 7 {
		t.Errorf("max in-flight = %d, exceeds cap 7", got)
	}
	if got := atomic.LoadInt32(&prober.maxInFlight); got < 2 {
		t.Errorf("max in-flight = %d, units did not run in parallel", got)
	}
}

func TestProgressOncePerCandidate(t *testing.T) {
	prober := newFakeProber(
		map[string]float64{"1.1.1.1": 100, "2.2.2.2": 0, "3.3.3.3": 100},
		map[string]float64{"1.1.1.1": 60, "3.3.3.3": 5},
	)
	var (
		ticks   int32
		mu      sync.Mutex
		maxDone int
	)
	tick := func(p Progress) {
		atomic.AddInt32(&ticks, 1)
		mu.Lock()
		if p.Done > maxDone {
			maxDone = p.Done
		}
		mu.Unlock()
		if p.Total != 3 {
			t.Errorf("progress total = %d, want 3", p.Total)
		}
	}
	res, err := New(geoOptions(), prober, nil, nil).Run(context.Background(), target, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}, nil, tick)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ticks != 3 || maxDone != 3 {
		t.Errorf("ticks = %d maxDone = %d, want 3", ticks, maxDone)
	}
	if res.Summary.Evaluated != 3 || res.Summary.Admitted != 1 {
		t.Errorf("summary = %+v", res.Summary)
	}
	if res.Summary.RunID == "" {
		t.Error("summary has no run id")
	}
}

func TestDuplicateCandidatesCountedPerDispatch(t *testing.T) {
	prober := newFakeProber(map[string]float64{"1.1.1.1": 100}, map[string]float64{"1.1.1.1": 60})
	res, err := New(geoOptions(), prober, nil, nil).Run(context.Background(), target, []string{"1.1.1.1", "1.1.1.1"}, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Outcomes) != 2 || res.Outcomes[0].Seq != 0 || res.Outcomes[1].Seq != 1 {
		t.Errorf("outcomes = %+v, want both dispatches in order", res.Outcomes)
	}
}

func TestZeroAdmitted(t *testing.T) {
	prober := newFakeProber(map[string]float64{"1.1.1.1": 0, "2.2.2.2": 0}, nil)
	res, err := New(geoOptions(), prober, nil, nil).Run(context.Background(), target, []string{"1.1.1.1", "2.2.2.2"}, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Outcomes) != 0 || res.Summary.Admitted != 0 || res.Summary.Evaluated != 2 {
		t.Errorf("result = %+v, want empty with two evaluated", res)
	}
}

func TestEmptyCandidates(t *testing.T) {
	_, err := New(geoOptions(), newFakeProber(nil, nil), nil, nil).Run(context.Background(), target, nil, nil, nil)
	if !errors.Is(err, pkgerrors.ErrMissingData) {
		t.Errorf("Run(nil) error = %v, want ErrMissingData", err)
	}
}

func TestEnrichmentFailureKeepsRecord(t *testing.T) {
	prober := newFakeProber(
		map[string]float64{"1.1.1.1": 100, "2.2.2.2": 100},
		map[string]float64{"1.1.1.1": 60, "2.2.2.2": 80},
	)
	locator := &fakeLocator{codes: map[string]string{"2.2.2.2": "US"}}
	opts := geoOptions()
	opts.Enrich = true

	res, err := New(opts, prober, locator, nil).Run(context.Background(), target, []string{"1.1.1.1", "2.2.2.2"}, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want 2", res.Outcomes)
	}
	if res.Outcomes[0].Location != "US" || res.Outcomes[1].Location != "" {
		t.Errorf("locations = %q, %q", res.Outcomes[0].Location, res.Outcomes[1].Location)
	}
	if res.Summary.EnrichmentFailed != 1 {
		t.Errorf("enrichment failed = %d, want 1", res.Summary.EnrichmentFailed)
	}
}

func TestCancelledRunSkipsRemaining(t *testing.T) {
	latency := make(map[string]float64)
	var candidates []string
	for i := 0; i < 20; i++ {
		ip := fmt.Sprintf("10.0.2.%d", i)
		candidates = append(candidates, ip)
		latency[ip] = 10
	}
	prober := newFakeProber(latency, nil)
	prober.hold = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	opts := geoOptions()
	opts.Concurrency = 1
	tick := func(p Progress) {
		if p.Done == 2 {
			cancel()
		}
	}
	res, err := New(opts, prober, nil, nil).Run(ctx, target, candidates, nil, tick)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.Summary.Evaluated >= len(candidates) {
		t.Errorf("evaluated = %d, want fewer than %d after cancel", res.Summary.Evaluated, len(candidates))
	}
}

type panicProber struct{}

func (p *panicProber) MeasureLatency(ctx context.Context, target model.Target, ip string) model.LatencyResult {
	if ip == "6.6.6.6" {
		panic("boom")
	}
	return model.LatencyResult{Millis: 50}
}

func (p *panicProber) MeasureThroughput(ctx context.Context, target model.Target, ip string) float64 {
	return 100
}

func TestPanicIsolatedToUnit(t *testing.T) {
	res, err := New(geoOptions(), &panicProber{}, nil, nil).Run(context.Background(), target, []string{"6.6.6.6", "7.7.7.7"}, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Outcomes) != 1 || res.Outcomes[0].Address != "7.7.7.7" {
		t.Errorf("outcomes = %+v, want only 7.7.7.7", res.Outcomes)
	}
}

func TestRankTieBreaksBySeq(t *testing.T) {
	outcomes := []model.Outcome{
		{Address: "c", Throughput: 50, Seq: 2},
		{Address: "a", Throughput: 50, Seq: 0},
		{Address: "d", Throughput: 90, Seq: 3},
		{Address: "b", Throughput: 50, Seq: 1},
	}
	got := Rank(outcomes, 3)
	want := []string{"d", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("Rank() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Address != want[i] {
			t.Errorf("Rank()[%d] = %s, want %s", i, got[i].Address, want[i])
		}
	}
}

func TestResultSetAddOnce(t *testing.T) {
	set := NewResultSet()
	var wg sync.WaitGroup
	var added int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if set.Add(model.Outcome{Address: "1.1.1.1", Seq: 7}) {
				atomic.AddInt32(&added, 1)
			}
		}()
	}
	wg.Wait()
	if added != 1 || set.Len() != 1 {
		t.Errorf("added = %d len = %d, want 1", added, set.Len())
	}
}

type staticColos map[string]string

func (c staticColos) Country(colo string) (string, bool) {
	cc, ok := c[colo]
	return cc, ok
}

type coloProber struct{}

func (coloProber) MeasureLatency(ctx context.Context, target model.Target, ip string) model.LatencyResult {
	return model.LatencyResult{Millis: 80, Colo: "NRT"}
}

func (coloProber) MeasureThroughput(ctx context.Context, target model.Target, ip string) float64 {
	return 70
}

func TestColoFallbackAfterEnrichmentFailure(t *testing.T) {
	opts := geoOptions()
	opts.Enrich = true
	eng := New(opts, coloProber{}, &fakeLocator{}, nil).WithColoFallback(staticColos{"NRT": "JP"})

	res, err := eng.Run(context.Background(), target, []string{"1.1.1.1"}, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Outcomes) != 1 || res.Outcomes[0].Location != "JP" || res.Outcomes[0].Colo != "NRT" {
		t.Errorf("outcomes = %+v, want location JP from colo NRT", res.Outcomes)
	}
	if res.Summary.EnrichmentFailed != 1 {
		t.Errorf("enrichment failed = %d, want 1", res.Summary.EnrichmentFailed)
	}
}
