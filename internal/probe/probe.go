package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Probe performs one kind of check against a target. The context carries the
// deadline; implementations must turn every failure into a Result and never
// panic on bad network input.
type Probe interface {
	Execute(ctx context.Context, target string, spec Spec) Result
}

// Func adapts a plain function to Probe.
type Func func(ctx context.Context, target string, spec Spec) Result

func (f Func) Execute(ctx context.Context, target string, spec Spec) Result {
	return f(ctx, target, spec)
}

// Run is the gate every caller goes through. Empty targets and invalid specs
// are rejected before any I/O, the timeout is applied and a panicking probe
// is reported as an internal failure.
func Run(ctx context.Context, p Probe, target string, spec Spec, timeout time.Duration) (res Result) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Failure(ClassInput, ReasonEmptyTarget, "empty target", 0)
	}
	if err := spec.Validate(); err != nil {
		class, reason := Classify(ctx, err)
		return Failure(class, reason, err.Error(), 0)
	}
	if p == nil {
		return Failure(ClassInput, ReasonProbeNotAvailable, fmt.Sprintf("no probe registered for %q", spec.Kind), 0)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Failure(ClassInternal, ReasonInternal, fmt.Sprint(r), time.Since(start))
		}
	}()
	return p.Execute(ctx, target, spec)
}

// Registry maps kinds to their implementation. Adding a kind is a Register
// call; nothing that schedules probes needs to change.
type Registry struct {
	mu sync.RWMutex
	m  map[Kind]Probe
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[Kind]Probe)}
}

func (r *Registry) Register(k Kind, p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[k] = p
}

// Lookup returns nil when the kind is not registered.
func (r *Registry) Lookup(k Kind) Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m[k]
}

func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	return out
}

// Deps are the collaborators of the default probe set. Zero values fall back
// to the operating system resolver and dialer.
type Deps struct {
	Dialer     Dialer
	Resolver   DNSResolver
	HTTPClient HTTPDoer
	DoH        DoHQuerier
}

// NewDefaultRegistry wires every built-in kind.
func NewDefaultRegistry(d Deps) *Registry {
	r := NewRegistry()
	r.Register(KindTCP, NewTCPProbe(d.Dialer))
	r.Register(KindDNS, NewDNSProbe(d.Resolver))
	r.Register(KindTLS, NewTLSProbe(d.Dialer))
	r.Register(KindHTTP, NewHTTPProbe(d.HTTPClient))
	r.Register(KindICMP, NewICMPProbe(d.Resolver))
	if d.DoH != nil {
		r.Register(KindDoH, NewDoHProbe(d.DoH))
	}
	return r
}
