package httpapi

import (
	"net/http"
	"strings"
	"testing"

	"github.com/hamed0406/netprobe/internal/domain"
	"github.com/hamed0406/netprobe/internal/repo"
)

func TestAddTarget_RunsImmediateCheck(t *testing.T) {
	env := setupRouter(t)
	rec := env.do(t, http.MethodPost, "/api/targets", "adm_test", `{"host":"https://Example.com./","probes":["tcp:443","dns:a"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[addResponse](t, rec)
	if out.Target.Host != "example.com" || out.Target.ID == "" {
		t.Fatalf("unexpected target: %+v", out.Target)
	}
	if len(out.Target.Probes) != 2 || out.Target.Probes[1] != "dns:A" {
		t.Fatalf("probes not canonical: %v", out.Target.Probes)
	}
	if len(out.Results) != 2 || !out.Results[0].OK || out.Results[0].RunID == "" {
		t.Fatalf("unexpected immediate results: %+v", out.Results)
	}

	rows := decode[[]repo.LatestRow](t, env.do(t, http.MethodGet, "/api/results/latest", "pub_test", ""))
	if len(rows) != 2 {
		t.Fatalf("want 2 latest rows, got %d", len(rows))
	}
}

func TestAddTarget_DefaultProbes(t *testing.T) {
	env := setupRouter(t)
	out := decode[addResponse](t, env.do(t, http.MethodPost, "/api/targets", "adm_test", `{"host":"example.org"}`))
	want := []string{"tcp:443", "tls:443", "dns:A"}
	if len(out.Target.Probes) != len(want) {
		t.Fatalf("want default probes %v, got %v", want, out.Target.Probes)
	}
	for i := range want {
		if out.Target.Probes[i] != want[i] {
			t.Fatalf("want default probes %v, got %v", want, out.Target.Probes)
		}
	}
}

func TestAddTarget_Errors(t *testing.T) {
	env := setupRouter(t)
	if rec := env.do(t, http.MethodPost, "/api/targets", "adm_test", `{"host":"example.com"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first add: want 201, got %d", rec.Code)
	}

	cases := []struct {
		name string
		key  string
		body string
		want int
	}{
		{"duplicate", "adm_test", `{"host":"EXAMPLE.com"}`, http.StatusConflict},
		{"invalid host", "adm_test", `{"host":"not a host"}`, http.StatusBadRequest},
		{"missing host", "adm_test", `{}`, http.StatusBadRequest},
		{"invalid probes", "adm_test", `{"host":"example.net","probes":["gopher"]}`, http.StatusBadRequest},
		{"public key", "pub_test", `{"host":"example.net"}`, http.StatusForbidden},
		{"no key", "", `{"host":"example.net"}`, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/targets", tc.key, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("want %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestListTargets(t *testing.T) {
	env := setupRouter(t)
	rec := env.do(t, http.MethodGet, "/api/targets", "pub_test", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("want empty list, got %d %q", rec.Code, rec.Body.String())
	}

	env.do(t, http.MethodPost, "/api/targets", "adm_test", `{"host":"a.example.com"}`)
	env.do(t, http.MethodPost, "/api/targets", "adm_test", `{"host":"b.example.com"}`)
	list := decode[[]domain.Target](t, env.do(t, http.MethodGet, "/api/targets", "pub_test", ""))
	if len(list) != 2 || list[0].Host != "a.example.com" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestNormalizeHost(t *testing.T) {
	cases := map[string]string{
		"Example.COM":               "example.com",
		" example.com. ":            "example.com",
		"https://Example.com:8443/": "example.com",
		"10.0.0.1":                  "10.0.0.1",
	}
	for in, want := range cases {
		if got := normalizeHost(in); got != want {
			t.Fatalf("normalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}
