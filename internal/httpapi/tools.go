package httpapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hamed0406/netprobe/internal/engine"
	"github.com/hamed0406/netprobe/internal/probe"
	"github.com/hamed0406/netprobe/internal/resolver/doh"
	"github.com/hamed0406/netprobe/internal/resolver/geo"
)

// ---- ping ----

type pingRequest struct {
	Host string `json:"host" validate:"required,max=253"`
}

type packetStats struct {
	Transmitted int `json:"transmitted"`
	Received    int `json:"received"`
	Loss        int `json:"loss"`
}

type pingResponse struct {
	Host    string      `json:"host"`
	Alive   bool        `json:"alive"`
	Method  string      `json:"method"`
	Time    *float64    `json:"time,omitempty"`
	Output  string      `json:"output"`
	Packets packetStats `json:"packets"`
	Reason  string      `json:"reason,omitempty"`
}

// handlePing sends one ICMP echo. Where raw sockets are not permitted it
// falls back to a TCP connect on port 80.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var req pingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	host := strings.TrimSpace(req.Host)

	method := "icmp"
	res := s.Engine.RunSingle(r.Context(), probe.ICMP(), host, 0)
	if res.Reason == probe.ReasonICMPUnavailable {
		method = "tcp"
		res = s.Engine.RunSingle(r.Context(), specPing, host, 0)
	}

	out := pingResponse{Host: host, Alive: res.OK, Method: method, Packets: packetStats{Transmitted: 1, Loss: 100}}
	if res.OK {
		out.Packets.Received, out.Packets.Loss = 1, 0
	} else {
		out.Reason = res.Reason
	}

	switch {
	case res.Reason == probe.ReasonResolutionFailed:
		out.Output = "Host resolution failed\n" + res.Message
	case method == "icmp" && res.ICMP != nil:
		rtt := res.ICMP.RTTMS
		out.Time = &rtt
		out.Output = fmt.Sprintf("Reply from %s: time=%.1f ms", res.ICMP.Addr, rtt)
	case method == "tcp":
		status := "Failed"
		if res.OK {
			status = "Success"
			t := res.ElapsedMS
			out.Time = &t
		}
		out.Output = fmt.Sprintf("TCP connection test to %s:80\n%s (%.0fms)", host, status, res.ElapsedMS)
	default:
		out.Output = failureText(res)
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- dig ----

type digRequest struct {
	Domain     string `json:"domain" validate:"required,max=253"`
	RecordType string `json:"recordType"`
}

type digRecord struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type digResponse struct {
	Domain     string      `json:"domain"`
	RecordType string      `json:"recordType"`
	Records    []digRecord `json:"records"`
	RawOutput  string      `json:"rawOutput"`
	Reason     string      `json:"reason,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func (s *Server) handleDig(w http.ResponseWriter, r *http.Request) {
	var req digRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rt := strings.ToUpper(strings.TrimSpace(req.RecordType))
	if rt == "" {
		rt = "A"
	}
	spec := probe.DNS(rt)
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	domain := strings.TrimSpace(req.Domain)
	res := s.Engine.RunSingle(r.Context(), spec, domain, 0)
	out := digResponse{Domain: domain, RecordType: rt, Records: []digRecord{}}
	if !res.OK || res.DNS == nil {
		out.Reason = res.Reason
		out.Error = failureText(res)
		out.RawOutput = out.Error
		writeJSON(w, http.StatusOK, out)
		return
	}
	for _, v := range res.DNS.Records {
		out.Records = append(out.Records, digRecord{Name: domain, Type: rt, Value: v})
	}
	out.RawOutput = strings.Join(res.DNS.Records, "\n")
	writeJSON(w, http.StatusOK, out)
}

// ---- multi-source dig ----

type multiDigRequest struct {
	Name string `json:"name" validate:"required,max=253"`
	Type string `json:"type"`
}

type sourceResult struct {
	Source  string            `json:"source"`
	Country string            `json:"country,omitempty"`
	EDNS    string            `json:"edns"`
	OK      bool              `json:"ok"`
	Result  *probe.DoHPayload `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type multiDigResponse struct {
	Query   string         `json:"query"`
	Type    string         `json:"type"`
	Results []sourceResult `json:"results"`
}

// handleMultiDig asks the DoH resolver once per vantage point. Sources that
// share a subnet share one query.
func (s *Server) handleMultiDig(w http.ResponseWriter, r *http.Request) {
	var req multiDigRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rt := strings.ToUpper(strings.TrimSpace(req.Type))
	if rt == "" {
		rt = "A"
	}
	if err := probe.DoH(rt, "").Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := strings.TrimSpace(req.Name)
	out := s.Engine.RunBatch(r.Context(), engine.Request{
		Targets:     []string{name},
		Probes:      doh.Specs(s.Sources, rt),
		Concurrency: digConcurrency,
	})
	results := out.Items[0].Results

	resp := multiDigResponse{Query: name, Type: rt, Results: make([]sourceResult, 0, len(s.Sources))}
	for _, src := range s.Sources {
		sr := sourceResult{Source: src.Label, Country: src.Country, EDNS: src.EDNS}
		res, ok := results[src.Spec(rt)]
		switch {
		case !ok:
			sr.Error = probe.ReasonCanceled
		case res.OK:
			sr.OK = true
			sr.Result = res.DoH
		default:
			sr.Result = res.DoH
			sr.Error = failureText(res)
		}
		resp.Results = append(resp.Results, sr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- ssl ----

type sslCheckRequest struct {
	URL string `json:"url" validate:"required,max=2048"`
}

type certResponse struct {
	Type   string                 `json:"type"`
	Input  string                 `json:"input,omitempty"`
	Host   string                 `json:"host,omitempty"`
	Port   int                    `json:"port,omitempty"`
	Info   *probe.CertificateInfo `json:"info,omitempty"`
	Reason string                 `json:"reason,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

func (s *Server) handleSSLCheck(w http.ResponseWriter, r *http.Request) {
	var req sslCheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	host, port, err := sslTarget(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.Engine.RunSingle(r.Context(), probe.TLS(port), host, 0)
	out := certResponse{Type: string(probe.MaterialCertificate), Input: req.URL, Host: host, Port: port, Info: res.TLS}
	if !res.OK {
		out.Reason = res.Reason
		out.Error = failureText(res)
	}
	writeJSON(w, http.StatusOK, out)
}

// sslTarget accepts a URL, host:port or a bare host. The port defaults to 443.
func sslTarget(raw string) (string, int, error) {
	raw = strings.TrimSpace(raw)
	host, portText := raw, ""
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return "", 0, fmt.Errorf("invalid url %q", raw)
		}
		host, portText = u.Hostname(), u.Port()
	} else if h, p, err := net.SplitHostPort(raw); err == nil {
		host, portText = h, p
	}
	if host == "" {
		return "", 0, errors.New("url is required")
	}
	if portText == "" {
		return host, 443, nil
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portText)
	}
	return host, port, nil
}

type sslDecodeRequest struct {
	Input string `json:"input" validate:"required"`
	Type  string `json:"type" validate:"omitempty,oneof=certificate csr"`
}

func (s *Server) handleSSLDecode(w http.ResponseWriter, r *http.Request) {
	var req sslDecodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind := probe.Material(req.Type)
	if kind == "" {
		kind = probe.MaterialCertificate
	}

	info, err := s.Engine.DecodeCertificateMaterial(req.Input, kind)
	if err != nil {
		class, reason := probe.Classify(r.Context(), err)
		code := http.StatusUnprocessableEntity
		switch class {
		case probe.ClassInput:
			code = http.StatusBadRequest
		case probe.ClassInternal:
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, certResponse{Type: string(kind), Reason: reason, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, certResponse{Type: string(kind), Info: info})
}

// ---- check-host ----

type checkHostRequest struct {
	Host string `json:"host" validate:"required,max=253"`
}

type checkHostResponse struct {
	*geo.HostInfo
	Reachability map[probe.Spec]probe.Result `json:"reachability"`
}

// handleCheckHost locates a host and reports whether its web ports answer.
func (s *Server) handleCheckHost(w http.ResponseWriter, r *http.Request) {
	var req checkHostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if s.Locator == nil {
		writeError(w, http.StatusServiceUnavailable, "geolocation is not configured")
		return
	}

	info, err := geo.LookupHost(r.Context(), s.Resolver, s.Locator, req.Host)
	switch {
	case errors.Is(err, geo.ErrUnresolvable):
		writeError(w, http.StatusBadRequest, "Could not resolve hostname")
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	out := s.Engine.RunBatch(r.Context(), engine.Request{
		Targets:     []string{info.IP},
		Probes:      []probe.Spec{probe.TCP(80), probe.TCP(443)},
		Concurrency: 2,
	})
	writeJSON(w, http.StatusOK, checkHostResponse{HostInfo: info, Reachability: out.Items[0].Results})
}
