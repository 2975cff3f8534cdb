package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/netprobe/internal/cache"
	"github.com/hamed0406/netprobe/internal/probe"
)

// countingProbe succeeds after delay, echoing the target, and records how
// many calls were made and the peak number running at once.
type countingProbe struct {
	delay    time.Duration
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	panicOn  string
}

func (p *countingProbe) Execute(ctx context.Context, target string, spec probe.Spec) probe.Result {
	p.calls.Add(1)
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if target == p.panicOn {
		panic("probe exploded on " + target)
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return probe.FromError(ctx, ctx.Err(), p.delay)
		}
	}
	res := probe.Success(p.delay)
	res.TCP = &probe.TCPPayload{Port: spec.Port, Addr: target}
	return res
}

func newTestEngine(p probe.Probe, opts ...cache.Option) (*Engine, *cache.Cache[probe.Key, probe.Result]) {
	reg := probe.NewRegistry()
	reg.Register(probe.KindTCP, p)
	reg.Register(probe.KindTLS, p)
	c := cache.New[probe.Key, probe.Result](cache.DefaultTTL, opts...)
	return New(reg, c, zap.NewNop()), c
}

func TestRunBatch_PreservesOrderAndDuplicates(t *testing.T) {
	p := &countingProbe{delay: 5 * time.Millisecond}
	e, _ := newTestEngine(p)

	targets := []string{"c.example", "a.example", "c.example", "", "b.example"}
	out := e.RunBatch(context.Background(), Request{
		Targets:     targets,
		Probes:      []probe.Spec{probe.TCP(80)},
		Concurrency: 2,
	})

	if out.Total != len(targets) || len(out.Items) != len(targets) {
		t.Fatalf("want %d items, got total=%d len=%d", len(targets), out.Total, len(out.Items))
	}
	for i, it := range out.Items {
		if it.Target != targets[i] {
			t.Fatalf("item %d: want target %q, got %q", i, targets[i], it.Target)
		}
		r, ok := it.Results[probe.TCP(80)]
		if !ok {
			t.Fatalf("item %d: missing result", i)
		}
		if targets[i] == "" {
			if r.OK || r.Reason != probe.ReasonEmptyTarget {
				t.Fatalf("empty target: want empty_target, got %+v", r)
			}
			continue
		}
		if !r.OK || r.TCP.Addr != targets[i] {
			t.Fatalf("item %d: result belongs to another target: %+v", i, r)
		}
	}
	if out.Completed != len(targets) {
		t.Fatalf("want all completed, got %d", out.Completed)
	}
	if out.ID.String() == "" {
		t.Fatalf("batch id not set")
	}
}

func TestRunBatch_IsolatesPanickingTarget(t *testing.T) {
	p := &countingProbe{panicOn: "boom.example"}
	e, _ := newTestEngine(p)

	out := e.RunBatch(context.Background(), Request{
		Targets:     []string{"a.example", "boom.example", "b.example"},
		Probes:      []probe.Spec{probe.TCP(80), probe.TLS(443)},
		Concurrency: 3,
	})

	for _, i := range []int{0, 2} {
		it := out.Items[i]
		if len(it.Results) != 2 || !AllOK(it) {
			t.Fatalf("neighbour %s not fully populated: %+v", it.Target, it.Results)
		}
	}
	bad := out.Items[1]
	if len(bad.Results) != 2 {
		t.Fatalf("faulting target should still get an entry per probe, got %+v", bad.Results)
	}
	for s, r := range bad.Results {
		if r.OK || r.Class != probe.ClassInternal {
			t.Fatalf("%s: want internal failure, got %+v", s, r)
		}
	}
}

func TestRunBatch_RuntimeFaultBecomesInternalFailure(t *testing.T) {
	reg := probe.NewRegistry()
	reg.Register(probe.KindTCP, probe.Func(func(ctx context.Context, target string, spec probe.Spec) probe.Result {
		var m map[string]int
		m[target]++
		return probe.Success(0)
	}))
	e := New(reg, nil, zap.NewNop())

	out := e.RunBatch(context.Background(), Request{Targets: []string{"x", "y"}, Probes: []probe.Spec{probe.TCP(80)}})
	for _, it := range out.Items {
		r := it.Results[probe.TCP(80)]
		if r.OK || r.Reason != probe.ReasonInternal {
			t.Fatalf("%s: want internal_error, got %+v", it.Target, r)
		}
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestRunBatch_ServesFreshResultsFromCache(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	p := &countingProbe{}
	e, _ := newTestEngine(p, cache.WithClock(clk.Now))
	req := Request{Targets: []string{"a.example", "b.example"}, Probes: []probe.Spec{probe.TCP(80)}, Concurrency: 2}

	e.RunBatch(context.Background(), req)
	if n := p.calls.Load(); n != 2 {
		t.Fatalf("first run: want 2 calls, got %d", n)
	}

	clk.Advance(cache.DefaultTTL - time.Second)
	e.RunBatch(context.Background(), req)
	if n := p.calls.Load(); n != 2 {
		t.Fatalf("fresh entries must not be re-probed, got %d calls", n)
	}

	clk.Advance(time.Second)
	e.RunBatch(context.Background(), req)
	if n := p.calls.Load(); n != 4 {
		t.Fatalf("stale entries must be re-probed, got %d calls", n)
	}

	st := e.CacheStats()
	if st.Hits != 2 || st.Expired != 2 {
		t.Fatalf("unexpected cache stats %+v", st)
	}
}

func TestRunBatch_FreshSkipsCacheReads(t *testing.T) {
	p := &countingProbe{}
	e, c := newTestEngine(p)
	req := Request{Targets: []string{"a.example"}, Probes: []probe.Spec{probe.TCP(80)}, Fresh: true}

	e.RunBatch(context.Background(), req)
	e.RunBatch(context.Background(), req)
	if n := p.calls.Load(); n != 2 {
		t.Fatalf("fresh batches always probe, got %d calls", n)
	}
	if c.Len() != 1 {
		t.Fatalf("fresh results should still be stored, cache len %d", c.Len())
	}

	req.Fresh = false
	e.RunBatch(context.Background(), req)
	if n := p.calls.Load(); n != 2 {
		t.Fatalf("a normal batch should reuse the stored result, got %d calls", n)
	}
}

func TestRunBatch_BoundsInFlightProbes(t *testing.T) {
	p := &countingProbe{delay: 20 * time.Millisecond}
	e, _ := newTestEngine(p)

	targets := make([]string, 20)
	for i := range targets {
		targets[i] = "host" + string(rune('a'+i)) + ".example"
	}
	e.RunBatch(context.Background(), Request{
		Targets:     targets,
		Probes:      []probe.Spec{probe.TCP(80), probe.TLS(443)},
		Concurrency: 3,
	})

	if peak := p.peak.Load(); peak > 3 {
		t.Fatalf("peak in-flight %d exceeds limit 3", peak)
	}
	if peak := p.peak.Load(); peak < 2 {
		t.Fatalf("probes did not run concurrently, peak %d", peak)
	}
	if n := p.calls.Load(); n != 40 {
		t.Fatalf("want 40 probe calls, got %d", n)
	}
}

func TestRunBatch_DuplicateTargetsShareOneExecution(t *testing.T) {
	p := &countingProbe{delay: 50 * time.Millisecond}
	e, _ := newTestEngine(p)

	out := e.RunBatch(context.Background(), Request{
		Targets:     []string{"x.example", "x.example", "x.example"},
		Probes:      []probe.Spec{probe.TCP(80)},
		Concurrency: 3,
	})
	if n := p.calls.Load(); n != 1 {
		t.Fatalf("want one execution, got %d", n)
	}
	for i, it := range out.Items {
		if !it.Results[probe.TCP(80)].OK {
			t.Fatalf("item %d missing shared result", i)
		}
	}
}

func TestRunBatch_Cancellation(t *testing.T) {
	p := &countingProbe{delay: 10 * time.Second}
	e, c := newTestEngine(p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	begin := time.Now()
	out := e.RunBatch(ctx, Request{
		Targets:     []string{"a", "b", "c", "d", "e", "f"},
		Probes:      []probe.Spec{probe.TCP(80)},
		Concurrency: 2,
	})
	if time.Since(begin) > 2*time.Second {
		t.Fatalf("cancellation did not abort in-flight probes")
	}
	if !out.Canceled {
		t.Fatalf("batch should be marked canceled")
	}
	for i := 0; i < 2; i++ {
		r := out.Items[i].Results[probe.TCP(80)]
		if r.OK || r.Reason != probe.ReasonCanceled {
			t.Fatalf("in-flight item %d: want canceled, got %+v", i, r)
		}
	}
	for i := 2; i < 6; i++ {
		if len(out.Items[i].Results) != 0 {
			t.Fatalf("unstarted item %d should be empty, got %+v", i, out.Items[i].Results)
		}
	}
	if out.Completed != 2 || out.Total != 6 {
		t.Fatalf("want completed=2 total=6, got %d/%d", out.Completed, out.Total)
	}
	if c.Len() != 0 {
		t.Fatalf("canceled results must not be cached")
	}
}

func TestRunBatch_OnItemSeesEveryTarget(t *testing.T) {
	e, _ := newTestEngine(&countingProbe{})
	seen := make(map[int]string)
	e.RunBatch(context.Background(), Request{
		Targets:     []string{"a", "b", "c", "d"},
		Probes:      []probe.Spec{probe.TCP(80)},
		Concurrency: 2,
		OnItem: func(i int, it Item) {
			seen[i] = it.Target
		},
	})
	if len(seen) != 4 || seen[0] != "a" || seen[3] != "d" {
		t.Fatalf("unexpected callbacks %v", seen)
	}
}

func TestRunSingle_EmptyTargetDoesNoIO(t *testing.T) {
	p := &countingProbe{}
	e, c := newTestEngine(p)

	res := e.RunSingle(context.Background(), probe.TCP(80), "  ", time.Second)
	if res.OK || res.Class != probe.ClassInput || res.Reason != probe.ReasonEmptyTarget {
		t.Fatalf("want input/empty_target, got %+v", res)
	}
	if p.calls.Load() != 0 || c.Len() != 0 {
		t.Fatalf("empty target must not reach the probe or the cache")
	}
}

func TestRunSingle_BypassesButFillsCache(t *testing.T) {
	p := &countingProbe{}
	e, _ := newTestEngine(p)

	e.RunSingle(context.Background(), probe.TCP(80), "a.example", time.Second)
	e.RunSingle(context.Background(), probe.TCP(80), "a.example", time.Second)
	if n := p.calls.Load(); n != 2 {
		t.Fatalf("single checks always probe, got %d calls", n)
	}

	e.RunBatch(context.Background(), Request{Targets: []string{"a.example"}, Probes: []probe.Spec{probe.TCP(80)}})
	if n := p.calls.Load(); n != 2 {
		t.Fatalf("batch should reuse the single check result, got %d calls", n)
	}
}

func TestRunSingle_UnregisteredKind(t *testing.T) {
	e, _ := newTestEngine(&countingProbe{})
	res := e.RunSingle(context.Background(), probe.ICMP(), "a.example", time.Second)
	if res.OK || res.Reason != probe.ReasonProbeNotAvailable {
		t.Fatalf("want probe_not_registered, got %+v", res)
	}
}

func TestDecodeCertificateMaterial_NeverPanics(t *testing.T) {
	e, _ := newTestEngine(&countingProbe{})
	info, err := e.DecodeCertificateMaterial("-----BEGIN CERTIFICATE-----\n!!\n-----END CERTIFICATE-----", probe.MaterialCertificate)
	if err == nil || info != nil {
		t.Fatalf("want parse error, got %+v", info)
	}
	class, _ := probe.Classify(context.Background(), err)
	if class != probe.ClassParse {
		t.Fatalf("want parse class, got %s", class)
	}
}

func TestCacheable(t *testing.T) {
	cases := []struct {
		res  probe.Result
		want bool
	}{
		{probe.Success(0), true},
		{probe.Failure(probe.ClassTimeout, probe.ReasonTimeout, "", 0), true},
		{probe.Failure(probe.ClassNetwork, probe.ReasonRefused, "", 0), true},
		{probe.Failure(probe.ClassInput, probe.ReasonEmptyTarget, "", 0), false},
		{probe.Failure(probe.ClassInternal, probe.ReasonInternal, "", 0), false},
		{probe.Failure(probe.ClassCanceled, probe.ReasonCanceled, "", 0), false},
	}
	for _, c := range cases {
		if got := Cacheable(c.res); got != c.want {
			t.Fatalf("Cacheable(%s/%s)=%v want %v", c.res.Class, c.res.Reason, got, c.want)
		}
	}
}
