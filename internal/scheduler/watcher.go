package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/netprobe/internal/domain"
	"github.com/hamed0406/netprobe/internal/engine"
	"github.com/hamed0406/netprobe/internal/probe"
	"github.com/hamed0406/netprobe/internal/repo"
)

// Batcher runs one batch. *engine.Engine satisfies it.
type Batcher interface {
	RunBatch(ctx context.Context, req engine.Request) engine.BatchResult
}

type WatcherConfig struct {
	Interval      time.Duration // 0 disables the loop
	RetryAttempts int
	RetryBackoff  time.Duration
	Concurrency   int
}

// Watcher probes the watchlist on a fixed interval and stores every outcome.
type Watcher struct {
	Logger  *zap.Logger
	Targets repo.TargetStore
	Results repo.ResultStore
	Engine  Batcher
	cfg     WatcherConfig
	now     func() time.Time
}

func NewWatcher(
	logger *zap.Logger,
	ts repo.TargetStore,
	rs repo.ResultStore,
	eng Batcher,
	cfg WatcherConfig,
) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	return &Watcher{
		Logger:  logger,
		Targets: ts,
		Results: rs,
		Engine:  eng,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run starts the loop. It does an immediate pass, then runs each tick.
// Stops when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	if w.cfg.Interval == 0 {
		w.Logger.Info("watcher_disabled")
		return
	}
	t := time.NewTicker(w.cfg.Interval)
	defer t.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("watcher_stopped")
			return
		case <-t.C:
			w.RunOnce(ctx)
		}
	}
}

// pair is one (target, spec) that still needs a passing result.
type pair struct {
	target domain.Target
	spec   probe.Spec
}

// RunOnce performs one pass and returns the run ID its records carry.
// Targets are grouped by probe list so each group is a single batch; failed
// pairs are retried as new batches after RetryBackoff.
func (w *Watcher) RunOnce(ctx context.Context) string {
	runID := uuid.NewString()
	start := w.now()

	targets, err := w.Targets.List(ctx)
	if err != nil {
		w.Logger.Warn("watcher_list_error", zap.Error(err))
		return runID
	}
	if len(targets) == 0 {
		return runID
	}

	var failed []pair
	for _, g := range w.group(targets) {
		failed = append(failed, w.run(ctx, runID, 0, g.targets, g.specs)...)
	}

	for attempt := 1; attempt <= w.cfg.RetryAttempts && len(failed) > 0; attempt++ {
		if !sleep(ctx, w.cfg.RetryBackoff) {
			break
		}
		w.Logger.Debug("watcher_retry", zap.String("run_id", runID), zap.Int("attempt", attempt), zap.Int("pairs", len(failed)))
		var still []pair
		for _, sp := range bySpec(failed) {
			still = append(still, w.run(ctx, runID, attempt, sp.targets, []probe.Spec{sp.spec})...)
		}
		failed = still
	}

	w.Logger.Info("watcher_pass",
		zap.String("run_id", runID),
		zap.Int("targets", len(targets)),
		zap.Int("failing", len(failed)),
		zap.Duration("elapsed", w.now().Sub(start)),
	)
	return runID
}

// run executes one batch, appends its records and returns the failed pairs.
// Canceled results are neither stored nor retried.
func (w *Watcher) run(ctx context.Context, runID string, attempt int, targets []domain.Target, specs []probe.Spec) []pair {
	hosts := make([]string, len(targets))
	for i, t := range targets {
		hosts[i] = t.Host
	}
	out := w.Engine.RunBatch(ctx, engine.Request{
		Targets:     hosts,
		Probes:      specs,
		Concurrency: w.cfg.Concurrency,
		Fresh:       true,
	})

	at := w.now()
	var recs []domain.CheckRecord
	var failed []pair
	for i, item := range out.Items {
		for _, s := range specs {
			res, ok := item.Results[s]
			if !ok || res.Class == probe.ClassCanceled {
				continue
			}
			recs = append(recs, domain.NewCheckRecord(runID, targets[i], s, res, attempt, at))
			if !res.OK {
				failed = append(failed, pair{target: targets[i], spec: s})
			}
		}
	}
	if len(recs) == 0 {
		return failed
	}
	if err := w.Results.Append(ctx, recs...); err != nil {
		w.Logger.Warn("watcher_append_error", zap.String("run_id", runID), zap.Int("records", len(recs)), zap.Error(err))
	}
	return failed
}

type targetGroup struct {
	specs   []probe.Spec
	targets []domain.Target
}

func (w *Watcher) group(targets []domain.Target) []targetGroup {
	idx := map[string]int{}
	var out []targetGroup
	for _, t := range targets {
		specs, err := t.Specs()
		if err != nil || len(specs) == 0 {
			w.Logger.Warn("watcher_bad_target", zap.String("host", t.Host), zap.Strings("probes", t.Probes), zap.Error(err))
			continue
		}
		key := specKey(specs)
		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, targetGroup{specs: specs})
		}
		out[i].targets = append(out[i].targets, t)
	}
	return out
}

type specGroup struct {
	spec    probe.Spec
	targets []domain.Target
}

func bySpec(pairs []pair) []specGroup {
	idx := map[probe.Spec]int{}
	var out []specGroup
	for _, p := range pairs {
		i, ok := idx[p.spec]
		if !ok {
			i = len(out)
			idx[p.spec] = i
			out = append(out, specGroup{spec: p.spec})
		}
		out[i].targets = append(out[i].targets, p.target)
	}
	return out
}

func specKey(specs []probe.Spec) string {
	parts := make([]string, len(specs))
	for i, s := range specs {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// sleep waits d or until ctx is done; it reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
