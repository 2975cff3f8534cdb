package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/netprobe/internal/engine"
	"github.com/hamed0406/netprobe/internal/probe"
)

// The checkbox form of a bulk request maps onto these specs.
var (
	specPing = probe.TCP(80)
	specA    = probe.DNS("A")
	specNS   = probe.DNS("NS")
	specSSL  = probe.TLS(443)
)

type bulkChecks struct {
	Ping bool `json:"ping"`
	Dig  bool `json:"dig"`
	SSL  bool `json:"ssl"`
}

type bulkRequest struct {
	Hosts       []string   `json:"hosts" validate:"required,min=1,dive,max=253"`
	Checks      bulkChecks `json:"checks"`
	Probes      []string   `json:"probes" validate:"omitempty,max=50"`
	Concurrency int        `json:"concurrency" validate:"omitempty,min=1,max=100"`
}

var errNoChecks = errors.New("no checks selected")

// specs returns the checkbox specs followed by the explicit ones.
func (req bulkRequest) specs() ([]probe.Spec, error) {
	var out []probe.Spec
	if req.Checks.Ping {
		out = append(out, specPing)
	}
	if req.Checks.Dig {
		out = append(out, specA, specNS)
	}
	if req.Checks.SSL {
		out = append(out, specSSL)
	}
	extra, err := probe.ParseSpecs(strings.Join(req.Probes, ","))
	if err != nil {
		return nil, err
	}
	out = append(out, extra...)
	if len(out) == 0 {
		return nil, errNoChecks
	}
	return out, nil
}

// checkView is the compact per-check summary of the bulk table.
type checkView struct {
	Status        string     `json:"status"`
	ResponseTime  *int64     `json:"responseTime,omitempty"`
	Records       []string   `json:"records,omitempty"`
	Issuer        string     `json:"issuer,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	DaysRemaining *int       `json:"daysRemaining,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type digView struct {
	A  *checkView `json:"a,omitempty"`
	NS *checkView `json:"ns,omitempty"`
}

type bulkItem struct {
	Host    string                      `json:"host"`
	Results map[probe.Spec]probe.Result `json:"results"`
	Ping    *checkView                  `json:"ping,omitempty"`
	Dig     *digView                    `json:"dig,omitempty"`
	SSL     *checkView                  `json:"ssl,omitempty"`
}

type bulkResponse struct {
	ID             uuid.UUID      `json:"id"`
	Total          int            `json:"total"`
	Completed      int            `json:"completed"`
	ProcessingTime int64          `json:"processingTime"`
	Items          []bulkItem     `json:"items"`
	Summary        engine.Summary `json:"summary"`
	Canceled       bool           `json:"canceled,omitempty"`
}

func (s *Server) handleBulkCheck(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	specs, ok := s.bulkSpecs(w, req)
	if !ok {
		return
	}

	out := s.Engine.RunBatch(r.Context(), engine.Request{
		Targets:     req.Hosts,
		Probes:      specs,
		Concurrency: req.Concurrency,
	})
	writeJSON(w, http.StatusOK, bulkResponseFrom(out, req.Checks))
}

// bulkSpecs validates the parts of a bulk request the struct tags cannot.
func (s *Server) bulkSpecs(w http.ResponseWriter, req bulkRequest) ([]probe.Spec, bool) {
	if len(req.Hosts) > s.MaxTargets {
		writeError(w, http.StatusRequestEntityTooLarge, "too many hosts")
		return nil, false
	}
	specs, err := req.specs()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return specs, true
}

func bulkResponseFrom(out engine.BatchResult, checks bulkChecks) bulkResponse {
	items := make([]bulkItem, len(out.Items))
	for i, it := range out.Items {
		items[i] = bulkItemFrom(it, checks)
	}
	return bulkResponse{
		ID:             out.ID,
		Total:          out.Total,
		Completed:      out.Completed,
		ProcessingTime: out.ElapsedMS,
		Items:          items,
		Summary:        engine.Summarize(out.Items),
		Canceled:       out.Canceled,
	}
}

func bulkItemFrom(it engine.Item, checks bulkChecks) bulkItem {
	bi := bulkItem{Host: it.Target, Results: it.Results}
	if res, ok := it.Results[specPing]; ok && checks.Ping {
		bi.Ping = pingView(res)
	}
	if checks.Dig {
		a, okA := it.Results[specA]
		ns, okNS := it.Results[specNS]
		if okA || okNS {
			bi.Dig = &digView{}
			if okA {
				bi.Dig.A = recordsView(a)
			}
			if okNS {
				bi.Dig.NS = recordsView(ns)
			}
		}
	}
	if res, ok := it.Results[specSSL]; ok && checks.SSL {
		bi.SSL = sslView(res)
	}
	return bi
}

func pingView(res probe.Result) *checkView {
	rt := int64(math.Round(res.ElapsedMS))
	v := &checkView{Status: "online", ResponseTime: &rt}
	if !res.OK {
		v.Status = "offline"
		v.Error = res.Reason
	}
	return v
}

func recordsView(res probe.Result) *checkView {
	if !res.OK || res.DNS == nil {
		return &checkView{Status: "error", Error: failureText(res)}
	}
	return &checkView{Status: "success", Records: res.DNS.Records}
}

func sslView(res probe.Result) *checkView {
	switch {
	case res.OK && res.TLS != nil:
	case res.Reason == probe.ReasonNoCertificate:
		return &checkView{Status: "none", Error: "No SSL certificate found"}
	default:
		return &checkView{Status: "error", Error: failureText(res)}
	}
	c := res.TLS
	v := &checkView{Status: "valid", ExpiresAt: &c.Validity.NotAfter, DaysRemaining: c.Validity.DaysRemaining}
	if c.Validity.DaysRemaining != nil && *c.Validity.DaysRemaining <= 0 {
		v.Status = "expired"
	}
	v.Issuer = "Unknown"
	if c.Issuer != nil {
		if c.Issuer.CommonName != "" {
			v.Issuer = c.Issuer.CommonName
		} else if c.Issuer.Organization != "" {
			v.Issuer = c.Issuer.Organization
		}
	}
	return v
}

func failureText(res probe.Result) string {
	if res.Message != "" {
		return res.Message
	}
	return res.Reason
}
