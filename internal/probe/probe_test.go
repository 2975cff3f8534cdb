package probe

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// recordingDialer counts dials and blocks until the context ends.
type recordingDialer struct {
	calls atomic.Int32
}

func (d *recordingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_EmptyTargetNeverDials(t *testing.T) {
	d := &recordingDialer{}
	for _, target := range []string{"", "   ", "\t\n"} {
		for _, spec := range []Spec{TCP(80), TLS(443)} {
			out := Run(context.Background(), NewTCPProbe(d), target, spec, time.Second)
			if out.OK || out.Class != ClassInput || out.Reason != ReasonEmptyTarget {
				t.Fatalf("target %q spec %s: want input/empty_target, got %+v", target, spec, out)
			}
		}
	}
	if n := d.calls.Load(); n != 0 {
		t.Fatalf("want zero dials, got %d", n)
	}
}

func TestRun_UnsupportedRecordTypeFailsFast(t *testing.T) {
	called := false
	p := Func(func(ctx context.Context, target string, spec Spec) Result {
		called = true
		return Success(0)
	})
	out := Run(context.Background(), p, "example.com", DNS("SOA"), time.Second)
	if out.OK || out.Reason != ReasonUnsupportedType || out.Class != ClassInput {
		t.Fatalf("want unsupported_type, got %+v", out)
	}
	if called {
		t.Fatalf("probe must not run for an unsupported record type")
	}
}

func TestRun_RecoversPanics(t *testing.T) {
	p := Func(func(ctx context.Context, target string, spec Spec) Result {
		panic("boom")
	})
	out := Run(context.Background(), p, "example.com", TCP(80), time.Second)
	if out.OK || out.Class != ClassInternal || out.Reason != ReasonInternal {
		t.Fatalf("want internal failure, got %+v", out)
	}
	if out.Message != "boom" {
		t.Fatalf("want panic value in message, got %q", out.Message)
	}
}

func TestRun_NilProbe(t *testing.T) {
	out := Run(context.Background(), nil, "example.com", ICMP(), time.Second)
	if out.OK || out.Reason != ReasonProbeNotAvailable {
		t.Fatalf("want probe_not_registered, got %+v", out)
	}
}

func TestRun_TrimsTargetBeforeProbing(t *testing.T) {
	var got string
	p := Func(func(ctx context.Context, target string, spec Spec) Result {
		got = target
		return Success(0)
	})
	Run(context.Background(), p, "  example.com \n", TCP(80), time.Second)
	if got != "example.com" {
		t.Fatalf("want trimmed target, got %q", got)
	}
}

func TestParseSpec(t *testing.T) {
	cases := []struct {
		in      string
		want    Spec
		wantErr bool
	}{
		{"tcp", TCP(80), false},
		{"tcp:8443", TCP(8443), false},
		{"TLS", TLS(443), false},
		{"http:80", HTTP(80), false},
		{"dns", DNS("A"), false},
		{"dns:mx", DNS("MX"), false},
		{"icmp", ICMP(), false},
		{"doh:AAAA@8.8.8.8/32", DoH("AAAA", "8.8.8.8/32"), false},
		{"dns:SOA", Spec{}, true},
		{"tcp:0", Spec{}, true},
		{"tcp:http", Spec{}, true},
		{"smtp:25", Spec{}, true},
	}
	for _, c := range cases {
		got, err := ParseSpec(c.in)
		if (err != nil) != c.wantErr {
			t.Fatalf("ParseSpec(%q) err=%v wantErr=%v", c.in, err, c.wantErr)
		}
		if !c.wantErr && got != c.want {
			t.Fatalf("ParseSpec(%q)=%+v want %+v", c.in, got, c.want)
		}
	}
}

func TestSpec_TextRoundTripAsMapKey(t *testing.T) {
	in := map[Spec]Result{
		TCP(80):                       {OK: true},
		DNS("MX"):                     {Reason: ReasonNoRecords},
		DoH("A", "208.67.222.222/32"): {OK: true},
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[Spec]Result
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("want %d keys, got %d (%s)", len(in), len(out), b)
	}
	for k, v := range in {
		if out[k].OK != v.OK || out[k].Reason != v.Reason {
			t.Fatalf("key %s: want %+v got %+v", k, v, out[k])
		}
	}
}

func TestKey_DistinguishesKindsSharingATarget(t *testing.T) {
	a := Key{Spec: TCP(443), Target: "example.com"}
	b := Key{Spec: TLS(443), Target: "example.com"}
	if a == b || a.String() == b.String() {
		t.Fatalf("keys for different kinds must differ: %s vs %s", a, b)
	}
	if (Key{Spec: TCP(80), Target: "Example.com"}) == (Key{Spec: TCP(80), Target: "example.com"}) {
		t.Fatalf("targets are not canonicalised")
	}
}

func TestDefaultRegistry_WiresKinds(t *testing.T) {
	r := NewDefaultRegistry(Deps{DoH: &fakeDoH{}})
	for _, k := range []Kind{KindTCP, KindDNS, KindTLS, KindHTTP, KindICMP, KindDoH} {
		if r.Lookup(k) == nil {
			t.Fatalf("kind %s not registered", k)
		}
	}
	if NewDefaultRegistry(Deps{}).Lookup(KindDoH) != nil {
		t.Fatalf("doh must stay unregistered without a client")
	}
}
