package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/netprobe/internal/config"
	"github.com/hamed0406/netprobe/internal/domain"
	"github.com/hamed0406/netprobe/internal/engine"
	"github.com/hamed0406/netprobe/internal/probe"
	"github.com/hamed0406/netprobe/internal/repo"
)

type addPayload struct {
	Host   string   `json:"host" validate:"required,max=253,hostname_rfc1123|ip"`
	Probes []string `json:"probes" validate:"omitempty,max=20"`
}

type addResponse struct {
	Target  domain.Target        `json:"target"`
	Results []domain.CheckRecord `json:"results"`
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var p addPayload
	if !decodeBody(w, r, &p) {
		return
	}
	p.Host = normalizeHost(p.Host)
	if err := checkStruct(&p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(p.Probes) == 0 {
		p.Probes = config.DefaultProbes
	}
	specs, err := probe.ParseSpecs(strings.Join(p.Probes, ","))
	if err != nil || len(specs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid probes")
		return
	}
	canonical := make([]string, len(specs))
	for i, sp := range specs {
		canonical[i] = sp.String()
	}

	t := &domain.Target{Host: p.Host, Probes: canonical, CreatedAt: time.Now().UTC()}
	if err := s.Targets.Add(r.Context(), t); err != nil {
		if errors.Is(err, repo.ErrExists) {
			writeError(w, http.StatusConflict, "target already exists")
			return
		}
		s.Logger.Error("add_target_failed", zap.String("host", p.Host), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not add")
		return
	}

	// Run a single pass synchronously for immediate feedback
	runID := uuid.NewString()
	out := s.Engine.RunBatch(r.Context(), engine.Request{Targets: []string{t.Host}, Probes: specs, Fresh: true})
	now := time.Now()
	recs := make([]domain.CheckRecord, 0, len(specs))
	for _, sp := range specs {
		if res, ok := out.Items[0].Results[sp]; ok {
			recs = append(recs, domain.NewCheckRecord(runID, *t, sp, res, 0, now))
		}
	}
	if err := s.appendRecords(r, recs); err != nil {
		s.Logger.Warn("append_results_failed", zap.String("host", t.Host), zap.Error(err))
	}

	s.Logger.Info("added_target",
		zap.String("target_id", string(t.ID)),
		zap.String("host", t.Host),
		zap.Strings("probes", t.Probes),
		zap.Int("passing", engine.CountResults(out.Items, func(_ probe.Spec, res probe.Result) bool { return res.OK })),
	)
	writeJSON(w, http.StatusCreated, addResponse{Target: *t, Results: recs})
}

func (s *Server) appendRecords(r *http.Request, recs []domain.CheckRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.Results.Append(r.Context(), recs...)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Targets.List(r.Context())
	if err != nil {
		s.Logger.Error("list_targets_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	if ts == nil {
		ts = []domain.Target{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Results.Latest(r.Context())
	if err != nil {
		s.Logger.Error("latest_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "latest error")
		return
	}
	if rows == nil {
		rows = []repo.LatestRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// normalizeHost accepts a bare host or a URL and returns the lower-cased
// host name without a trailing dot.
func normalizeHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			raw = u.Hostname()
		}
	}
	return strings.TrimSuffix(strings.ToLower(raw), ".")
}
