// Package storetest is the behaviour every repo.Store adapter must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hamed0406/netprobe/internal/domain"
	"github.com/hamed0406/netprobe/internal/repo"
)

// Run exercises targets, results and alert state against a fresh store.
func Run(t *testing.T, open func(t *testing.T) repo.Store) {
	t.Run("targets", func(t *testing.T) { testTargets(t, open(t)) })
	t.Run("latest", func(t *testing.T) { testLatest(t, open(t)) })
	t.Run("alerts", func(t *testing.T) { testAlerts(t, open(t)) })
}

func uniqueHost(prefix string) string {
	return fmt.Sprintf("%s-%d.example.com", prefix, time.Now().UnixNano())
}

func testTargets(t *testing.T, s repo.Store) {
	defer s.Close()
	ctx := context.Background()
	host := uniqueHost("tgt")

	tgt := &domain.Target{Host: host, Probes: []string{"tcp:443", "tls:443"}}
	if err := s.Add(ctx, tgt); err != nil {
		t.Fatalf("Add target: %v", err)
	}
	if tgt.ID == "" || tgt.CreatedAt.IsZero() {
		t.Fatalf("expected ID and CreatedAt to be set: %+v", tgt)
	}
	if err := s.Add(ctx, &domain.Target{Host: host}); !errors.Is(err, repo.ErrExists) {
		t.Fatalf("duplicate host: want ErrExists, got %v", err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, x := range all {
		if x.ID == tgt.ID {
			found = true
			if x.Host != host || len(x.Probes) != 2 || x.Probes[1] != "tls:443" {
				t.Fatalf("listed target differs: %+v", x)
			}
		}
	}
	if !found {
		t.Fatalf("added target not listed; got %d rows", len(all))
	}

	got, err := s.GetByHost(ctx, host)
	if err != nil || got == nil || got.ID != tgt.ID {
		t.Fatalf("GetByHost: %+v %v", got, err)
	}
	missing, err := s.GetByHost(ctx, uniqueHost("missing"))
	if err != nil || missing != nil {
		t.Fatalf("unknown host: want nil, nil; got %+v %v", missing, err)
	}
}

func testLatest(t *testing.T, s repo.Store) {
	defer s.Close()
	ctx := context.Background()

	tgt := &domain.Target{Host: uniqueHost("latest"), Probes: []string{"tcp:443", "tls:443"}}
	if err := s.Add(ctx, tgt); err != nil {
		t.Fatalf("Add target: %v", err)
	}
	base := time.Now().UTC().Truncate(time.Millisecond)
	days := 30
	recs := []domain.CheckRecord{
		{RunID: "r1", TargetID: tgt.ID, Host: tgt.Host, Probe: "tcp:443", OK: false, Reason: "timeout", ElapsedMS: 3000, CheckedAt: base},
		{RunID: "r2", TargetID: tgt.ID, Host: tgt.Host, Probe: "tcp:443", OK: true, ElapsedMS: 12.5, CheckedAt: base.Add(time.Minute)},
		{RunID: "r2", TargetID: tgt.ID, Host: tgt.Host, Probe: "tls:443", OK: true, ElapsedMS: 40, DaysRemaining: &days, CheckedAt: base.Add(time.Minute)},
	}
	if err := s.Append(ctx, recs...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	rows := map[string]repo.LatestRow{}
	for _, r := range latest {
		if r.TargetID == string(tgt.ID) {
			rows[r.Probe] = r
		}
	}
	if len(rows) != 2 {
		t.Fatalf("want one row per probe, got %+v", rows)
	}
	if tcp := rows["tcp:443"]; !tcp.OK || tcp.ElapsedMS != 12.5 || tcp.Host != tgt.Host {
		t.Fatalf("tcp row is not the newest record: %+v", tcp)
	}
	if tls := rows["tls:443"]; tls.DaysRemaining == nil || *tls.DaysRemaining != 30 {
		t.Fatalf("tls row lost days remaining: %+v", tls)
	}
}

func testAlerts(t *testing.T, s repo.Store) {
	defer s.Close()
	ctx := context.Background()
	key := repo.AlertKey(uniqueHost("alert"), "tcp:443")

	// none yet
	rec, err := s.Get(ctx, key)
	if err != nil || rec != nil {
		t.Fatalf("expected nil, got %+v err=%v", rec, err)
	}

	// set (no sent time)
	if err := s.Set(ctx, key, false, time.Time{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	rec, err = s.Get(ctx, key)
	if err != nil || rec == nil || rec.LastSentAt != nil || rec.LastState {
		t.Fatalf("unexpected: %+v err=%v", rec, err)
	}

	// set with sent time
	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.Set(ctx, key, true, now); err != nil {
		t.Fatalf("set2: %v", err)
	}
	rec, err = s.Get(ctx, key)
	if err != nil || rec == nil || rec.LastSentAt == nil || !rec.LastState || !rec.LastSentAt.Equal(now) {
		t.Fatalf("unexpected2: %+v err=%v", rec, err)
	}
}
