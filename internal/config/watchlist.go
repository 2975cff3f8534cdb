package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Watchlist is the YAML file that seeds watched targets at startup:
//
//	targets:
//	  - host: example.com
//	    probes: ["tcp:443", "tls:443", "dns:A"]
type Watchlist struct {
	Targets []WatchTarget `yaml:"targets"`
}

type WatchTarget struct {
	Host   string   `yaml:"host"`
	Probes []string `yaml:"probes"`
}

// DefaultProbes apply to watchlist entries that list none.
var DefaultProbes = []string{"tcp:443", "tls:443", "dns:A"}

func LoadWatchlist(path string) (Watchlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Watchlist{}, fmt.Errorf("read watchlist: %w", err)
	}
	return ParseWatchlist(b)
}

func ParseWatchlist(b []byte) (Watchlist, error) {
	var w Watchlist
	if err := yaml.Unmarshal(b, &w); err != nil {
		return Watchlist{}, fmt.Errorf("parse watchlist: %w", err)
	}
	out := w.Targets[:0]
	for i, t := range w.Targets {
		t.Host = strings.TrimSpace(t.Host)
		if t.Host == "" {
			return Watchlist{}, fmt.Errorf("watchlist entry %d: host is required", i)
		}
		if len(t.Probes) == 0 {
			t.Probes = append([]string(nil), DefaultProbes...)
		}
		out = append(out, t)
	}
	w.Targets = out
	return w, nil
}
