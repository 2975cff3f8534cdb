// Package engine schedules probes over target lists. It is the only caller of
// the probe implementations and the only user of the result cache.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hamed0406/netprobe/internal/cache"
	"github.com/hamed0406/netprobe/internal/probe"
)

const DefaultConcurrency = 10

// DefaultTimeouts are the per-kind limits used inside batches. Interactive
// single checks use DefaultSingleTimeout instead.
var DefaultTimeouts = map[probe.Kind]time.Duration{
	probe.KindTCP:  3 * time.Second,
	probe.KindDNS:  3 * time.Second,
	probe.KindTLS:  5 * time.Second,
	probe.KindHTTP: 5 * time.Second,
	probe.KindICMP: 3 * time.Second,
	probe.KindDoH:  7 * time.Second,
}

const DefaultSingleTimeout = 10 * time.Second

// Recorder receives instrumentation events. All methods must be safe for
// concurrent use.
type Recorder interface {
	ProbeStarted(kind probe.Kind)
	ProbeFinished(kind probe.Kind, res probe.Result, d time.Duration)
	CacheLookup(hit bool)
	BatchFinished(targets int, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ProbeStarted(probe.Kind)                               {}
func (nopRecorder) ProbeFinished(probe.Kind, probe.Result, time.Duration) {}
func (nopRecorder) CacheLookup(bool)                                      {}
func (nopRecorder) BatchFinished(int, time.Duration)                      {}

type Engine struct {
	registry *probe.Registry
	cache    *cache.Cache[probe.Key, probe.Result]
	log      *zap.Logger
	rec      Recorder

	timeouts      map[probe.Kind]time.Duration
	singleTimeout time.Duration
	concurrency   int
	now           func() time.Time

	flights singleflight.Group
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.rec = r
		}
	}
}

// WithTimeouts overrides the batch timeout of the kinds present in m.
func WithTimeouts(m map[probe.Kind]time.Duration) Option {
	return func(e *Engine) {
		for k, d := range m {
			if d > 0 {
				e.timeouts[k] = d
			}
		}
	}
}

func WithSingleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.singleTimeout = d
		}
	}
}

// WithConcurrency sets the window size used when a Request leaves it at zero.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(reg *probe.Registry, c *cache.Cache[probe.Key, probe.Result], log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if c == nil {
		c = cache.New[probe.Key, probe.Result](cache.DefaultTTL)
	}
	e := &Engine{
		registry:      reg,
		cache:         c,
		log:           log,
		rec:           nopRecorder{},
		timeouts:      make(map[probe.Kind]time.Duration, len(DefaultTimeouts)),
		singleTimeout: DefaultSingleTimeout,
		concurrency:   DefaultConcurrency,
		now:           time.Now,
	}
	for k, d := range DefaultTimeouts {
		e.timeouts[k] = d
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Request describes one batch. Targets keep their order and duplicates.
type Request struct {
	Targets     []string
	Probes      []probe.Spec
	Concurrency int
	// Timeout overrides the per-kind batch timeout when positive.
	Timeout time.Duration
	// Fresh skips cache reads. Results are still stored.
	Fresh bool
	// OnItem is called once per target as soon as its results are in.
	// Calls are serialized but not ordered by index.
	OnItem func(index int, item Item)
}

type Item struct {
	Target  string                      `json:"target"`
	Results map[probe.Spec]probe.Result `json:"results"`
}

type BatchResult struct {
	ID        uuid.UUID `json:"id"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Items     []Item    `json:"items"`
	ElapsedMS int64     `json:"elapsed_ms"`
	StartedAt time.Time `json:"started_at"`
	Canceled  bool      `json:"canceled,omitempty"`
}

// RunBatch probes every target with every spec. Targets are processed in
// consecutive windows of Concurrency targets; a window finishes before the
// next starts, and at most Concurrency probes of this batch are in flight at
// any moment. Canceling ctx aborts in-flight probes and leaves the targets of
// unstarted windows with empty result maps.
func (e *Engine) RunBatch(ctx context.Context, req Request) BatchResult {
	started := e.now()
	conc := req.Concurrency
	if conc <= 0 {
		conc = e.concurrency
	}
	specs := uniqueSpecs(req.Probes)

	items := make([]Item, len(req.Targets))
	for i, t := range req.Targets {
		items[i] = Item{Target: t, Results: make(map[probe.Spec]probe.Result, len(specs))}
	}

	sem := semaphore.NewWeighted(int64(conc))
	var emitMu sync.Mutex
	emit := func(i int) {
		if req.OnItem == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		req.OnItem(i, items[i])
	}

	for lo := 0; lo < len(items); lo += conc {
		if ctx.Err() != nil {
			break
		}
		hi := min(lo+conc, len(items))
		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e.runTarget(ctx, sem, &items[i], specs, req.Timeout, req.Fresh)
				emit(i)
			}(i)
		}
		wg.Wait()
	}

	elapsed := e.now().Sub(started)
	out := BatchResult{
		ID:        uuid.New(),
		Total:     len(items),
		Completed: Completed(items),
		Items:     items,
		ElapsedMS: elapsed.Milliseconds(),
		StartedAt: started.UTC(),
		Canceled:  ctx.Err() != nil,
	}
	e.rec.BatchFinished(len(items), elapsed)
	e.log.Info("batch_done",
		zap.String("batch_id", out.ID.String()),
		zap.Int("targets", out.Total),
		zap.Int("completed", out.Completed),
		zap.Int("probes", len(specs)),
		zap.Int("concurrency", conc),
		zap.Duration("elapsed", elapsed),
		zap.Bool("canceled", out.Canceled),
	)
	return out
}

// runTarget fills item.Results. A fault escaping a probe goroutine or this
// function turns every spec still missing a result into an internal failure.
func (e *Engine) runTarget(ctx context.Context, sem *semaphore.Weighted, item *Item, specs []probe.Spec, timeout time.Duration, fresh bool) {
	results := make([]probe.Result, len(specs))
	done := make([]bool, len(specs))

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("target_panic", zap.String("target", item.Target), zap.Any("panic", r))
		}
		for j, s := range specs {
			if !done[j] {
				results[j] = probe.Failure(probe.ClassInternal, probe.ReasonInternal, "probe did not complete", 0)
			}
			item.Results[s] = results[j]
		}
	}()

	var wg sync.WaitGroup
	for j, s := range specs {
		wg.Add(1)
		go func(j int, s probe.Spec) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("probe_panic",
						zap.String("target", item.Target),
						zap.Stringer("probe", s),
						zap.Any("panic", r))
					results[j] = probe.Failure(probe.ClassInternal, probe.ReasonInternal, fmt.Sprint(r), 0)
					done[j] = true
				}
			}()
			results[j] = e.cachedProbe(ctx, sem, item.Target, s, timeout, fresh)
			done[j] = true
		}(j, s)
	}
	wg.Wait()
}

// cachedProbe serves a fresh cached result or runs the probe under the batch
// semaphore. Concurrent misses for one key share a single execution.
func (e *Engine) cachedProbe(ctx context.Context, sem *semaphore.Weighted, target string, spec probe.Spec, timeout time.Duration, fresh bool) probe.Result {
	// input errors are decided without I/O, the cache and the semaphore
	if strings.TrimSpace(target) == "" || spec.Validate() != nil {
		return probe.Run(ctx, e.registry.Lookup(spec.Kind), target, spec, timeout)
	}

	key := probe.Key{Spec: spec, Target: target}
	if !fresh {
		if res, ok := e.cache.Get(key); ok {
			e.rec.CacheLookup(true)
			return res
		}
		e.rec.CacheLookup(false)
	}

	v, _, _ := e.flights.Do(key.String(), func() (any, error) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return probe.Failure(probe.ClassCanceled, probe.ReasonCanceled, err.Error(), 0), nil
		}
		defer sem.Release(1)
		res := e.execute(ctx, target, spec, timeout)
		e.store(key, res)
		return res, nil
	})
	res := v.(probe.Result)

	// a shared flight from another, canceled batch says nothing about ours
	if res.Class == probe.ClassCanceled && ctx.Err() == nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return probe.Failure(probe.ClassCanceled, probe.ReasonCanceled, err.Error(), 0)
		}
		defer sem.Release(1)
		res = e.execute(ctx, target, spec, timeout)
		e.store(key, res)
	}
	return res
}

func (e *Engine) execute(ctx context.Context, target string, spec probe.Spec, timeout time.Duration) probe.Result {
	if timeout <= 0 {
		timeout = e.timeoutFor(spec.Kind)
	}
	e.rec.ProbeStarted(spec.Kind)
	start := time.Now()
	res := probe.Run(ctx, e.registry.Lookup(spec.Kind), target, spec, timeout)
	e.rec.ProbeFinished(spec.Kind, res, time.Since(start))
	if !res.OK {
		e.log.Debug("probe_failed",
			zap.String("target", target),
			zap.Stringer("probe", spec),
			zap.String("reason", res.Reason),
			zap.Float64("elapsed_ms", res.ElapsedMS))
	}
	return res
}

func (e *Engine) store(key probe.Key, res probe.Result) {
	if Cacheable(res) {
		e.cache.Put(key, res)
	}
}

// Cacheable reports whether a result says something about the target.
// Input, internal and canceled failures do not.
func Cacheable(res probe.Result) bool {
	if res.OK {
		return true
	}
	switch res.Class {
	case probe.ClassInput, probe.ClassInternal, probe.ClassCanceled:
		return false
	}
	return true
}

func (e *Engine) timeoutFor(k probe.Kind) time.Duration {
	if d, ok := e.timeouts[k]; ok {
		return d
	}
	return 5 * time.Second
}

// RunSingle runs one probe for an interactive check. It always probes, even
// when a fresh cached result exists, and stores what it finds.
func (e *Engine) RunSingle(ctx context.Context, spec probe.Spec, target string, timeout time.Duration) (res probe.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("probe_panic", zap.String("target", target), zap.Stringer("probe", spec), zap.Any("panic", r))
			res = probe.Failure(probe.ClassInternal, probe.ReasonInternal, fmt.Sprint(r), 0)
		}
	}()
	if timeout <= 0 {
		timeout = e.singleTimeout
	}
	res = e.execute(ctx, target, spec, timeout)
	if strings.TrimSpace(target) != "" {
		e.store(probe.Key{Spec: spec, Target: target}, res)
	}
	return res
}

// DecodeCertificateMaterial parses PEM text without network I/O.
func (e *Engine) DecodeCertificateMaterial(pemText string, kind probe.Material) (info *probe.CertificateInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			info = nil
			err = &probe.Error{Class: probe.ClassInternal, Reason: probe.ReasonInternal, Err: fmt.Errorf("%v", r)}
		}
	}()
	return probe.DecodeCertificateMaterial(pemText, kind, e.now())
}

// CacheStats exposes the result cache counters.
func (e *Engine) CacheStats() cache.Stats { return e.cache.Stats() }

func uniqueSpecs(in []probe.Spec) []probe.Spec {
	seen := make(map[probe.Spec]bool, len(in))
	out := make([]probe.Spec, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
