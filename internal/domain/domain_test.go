package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hamed0406/netprobe/internal/probe"
)

func TestTarget_JSONRoundTrip(t *testing.T) {
	want := Target{
		ID:        TargetID("T1"),
		Host:      "example.com",
		Probes:    []string{"tcp:443", "dns:MX"},
		CreatedAt: time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC),
	}
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Target
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != want.ID || got.Host != want.Host || len(got.Probes) != 2 || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("mismatch after round-trip:\nwant=%+v\ngot =%+v", want, got)
	}
}

func TestTarget_Specs(t *testing.T) {
	specs, err := Target{Probes: []string{"tcp:443", " dns:mx ", "tls"}}.Specs()
	if err != nil {
		t.Fatalf("specs: %v", err)
	}
	if len(specs) != 3 || specs[1] != probe.DNS("MX") || specs[2] != probe.TLS(443) {
		t.Fatalf("unexpected specs %v", specs)
	}
	if _, err := (Target{Probes: []string{"dns:SOA"}}).Specs(); err == nil {
		t.Fatalf("unsupported record type must fail")
	}
}

func TestNewCheckRecord(t *testing.T) {
	days := 12
	res := probe.Success(42 * time.Millisecond)
	res.TLS = &probe.CertificateInfo{Validity: probe.Validity{DaysRemaining: &days}}
	tgt := Target{ID: "T1", Host: "example.com"}
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	rec := NewCheckRecord("run-1", tgt, probe.TLS(443), res, 0, at)
	if rec.Probe != "tls:443" || !rec.OK || rec.Host != "example.com" || rec.RunID != "run-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.DaysRemaining == nil || *rec.DaysRemaining != 12 {
		t.Fatalf("days remaining not copied: %v", rec.DaysRemaining)
	}
	if rec.CheckedAt.Location() != time.UTC {
		t.Fatalf("checked_at should be UTC")
	}

	fail := probe.Failure(probe.ClassTimeout, probe.ReasonTimeout, "", 3*time.Second)
	rec = NewCheckRecord("run-1", tgt, probe.TCP(80), fail, 2, at)
	if rec.OK || rec.Reason != "timeout" || rec.Class != "timeout" || rec.Attempt != 2 || rec.DaysRemaining != nil {
		t.Fatalf("unexpected failure record %+v", rec)
	}
}
