package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DNSResolver is the subset of *net.Resolver the dns probe needs, so tests
// can swap in canned answers.
type DNSResolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// DNSProbe resolves one record type and renders each answer as a string:
// MX as "<priority> <exchange>", TXT as the joined chunks of one record,
// everything else as the bare address or name.
type DNSProbe struct {
	Resolver DNSResolver
}

func NewDNSProbe(r DNSResolver) *DNSProbe {
	if r == nil {
		r = &net.Resolver{} // OS resolver
	}
	return &DNSProbe{Resolver: r}
}

func (p *DNSProbe) Execute(ctx context.Context, target string, spec Spec) Result {
	start := time.Now()
	records, err := p.lookup(ctx, target, spec.RecordType)
	elapsed := time.Since(start)
	if err != nil {
		return dnsFailure(ctx, err, elapsed)
	}
	if len(records) == 0 {
		return Failure(ClassNetwork, ReasonNoRecords, fmt.Sprintf("no %s records for %s", spec.RecordType, target), elapsed)
	}

	res := Success(elapsed)
	res.DNS = &DNSPayload{RecordType: spec.RecordType, Records: records}
	return res
}

func (p *DNSProbe) lookup(ctx context.Context, name, recordType string) ([]string, error) {
	switch recordType {
	case "A", "AAAA":
		network := "ip4"
		if recordType == "AAAA" {
			network = "ip6"
		}
		ips, err := p.Resolver.LookupIP(ctx, network, name)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(ips))
		for _, ip := range ips {
			out = append(out, ip.String())
		}
		return out, nil
	case "NS":
		ns, err := p.Resolver.LookupNS(ctx, name)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(ns))
		for _, n := range ns {
			out = append(out, trimDot(n.Host))
		}
		return out, nil
	case "MX":
		mx, err := p.Resolver.LookupMX(ctx, name)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(mx))
		for _, m := range mx {
			out = append(out, FormatMX(m.Pref, m.Host))
		}
		return out, nil
	case "TXT":
		// the resolver already joins the character-strings of each record
		return p.Resolver.LookupTXT(ctx, name)
	case "CNAME":
		cname, err := p.Resolver.LookupCNAME(ctx, name)
		if err != nil {
			return nil, err
		}
		// a name without a CNAME resolves to itself
		if strings.EqualFold(trimDot(cname), trimDot(name)) {
			return nil, nil
		}
		return []string{trimDot(cname)}, nil
	}
	return nil, &Error{Class: ClassInput, Reason: ReasonUnsupportedType, Err: fmt.Errorf("unsupported record type %q", recordType)}
}

// FormatMX renders an MX answer the way dig +short does, without the
// trailing root dot.
func FormatMX(pref uint16, host string) string {
	return strconv.Itoa(int(pref)) + " " + trimDot(host)
}

func dnsFailure(ctx context.Context, err error, elapsed time.Duration) Result {
	class, reason := Classify(ctx, err)
	if class == ClassNetwork && reason == ReasonUnreachable {
		reason = ReasonResolutionFailed
	}
	msg := err.Error()
	var de *net.DNSError
	if errors.As(err, &de) && de.IsNotFound {
		msg = "NXDOMAIN: " + msg
	}
	return Failure(class, reason, msg, elapsed)
}

func trimDot(s string) string { return strings.TrimSuffix(s, ".") }
