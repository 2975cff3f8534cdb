// cmd/preflight/main.go
package main

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/hamed0406/netprobe/internal/config"
	"github.com/hamed0406/netprobe/internal/domain"
	"github.com/hamed0406/netprobe/internal/resolver/geo"
)

func main() {
	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg := config.FromEnv()

	if len(cfg.AdminAPIKeys) == 0 {
		fail("ADMIN_API_KEYS is empty (adding watch targets will 403).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		warn("PUBLIC_API_KEYS is empty; tools are reachable with admin keys only.")
	}
	for _, k := range append(append([]string{}, cfg.AdminAPIKeys...), cfg.PublicAPIKeys...) {
		if len(k) < 16 {
			warn("an API key is shorter than 16 characters")
			break
		}
	}

	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		fail("API_ADDR=" + cfg.Addr + " is not host:port")
	} else {
		ok("API_ADDR=" + cfg.Addr)
	}

	switch {
	case cfg.DatabaseURL != "":
		if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			warn("DATABASE_URL does not look like a postgres URL")
		}
		ok("DATABASE_URL present")
	case cfg.StorePath != "":
		ok("STORE_PATH=" + cfg.StorePath + " (leveldb)")
	default:
		warn("DATABASE_URL and STORE_PATH empty; targets and results live in memory only.")
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; any origin may call the API from a browser.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if cfg.GeoIPDB == "" {
		warn("GEOIP_DB empty; check-host falls back to ip-api.com only.")
	} else if mm, err := geo.OpenMaxMind(cfg.GeoIPDB, cfg.GeoIPASNDB); err != nil {
		fail("GeoIP database: " + err.Error())
	} else {
		_ = mm.Close()
		ok("GEOIP_DB=" + cfg.GeoIPDB)
	}

	if cfg.WatchlistFile != "" {
		wl, err := config.LoadWatchlist(cfg.WatchlistFile)
		if err != nil {
			fail(err.Error())
		} else {
			bad := 0
			for _, wt := range wl.Targets {
				if _, err := (domain.Target{Host: wt.Host, Probes: wt.Probes}).Specs(); err != nil {
					fail(wt.Host + ": " + err.Error())
					bad++
				}
			}
			if bad == 0 {
				ok(fmt.Sprintf("WATCHLIST_FILE has %d targets", len(wl.Targets)))
			}
		}
	}
	if cfg.SlackWebhookURL == "" {
		warn("SLACK_WEBHOOK_URL empty; alerts go to the log only.")
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}
