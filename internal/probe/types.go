package probe

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind names a probe implementation in the Registry.
type Kind string

const (
	KindTCP  Kind = "tcp"
	KindDNS  Kind = "dns"
	KindTLS  Kind = "tls"
	KindHTTP Kind = "http"
	KindICMP Kind = "icmp"
	KindDoH  Kind = "doh"
)

// Record types accepted by the dns and doh kinds.
var supportedRecordTypes = map[string]bool{
	"A": true, "AAAA": true, "NS": true, "MX": true, "TXT": true, "CNAME": true,
}

// Spec is one requested check: the kind plus the minimal configuration it
// needs. Specs are comparable and used as map keys; their text form
// ("tcp:80", "dns:MX", "doh:A@8.8.8.8/32") is what appears in JSON.
type Spec struct {
	Kind       Kind
	Port       int
	RecordType string
	Source     string
}

func TCP(port int) Spec          { return Spec{Kind: KindTCP, Port: port} }
func TLS(port int) Spec          { return Spec{Kind: KindTLS, Port: port} }
func HTTP(port int) Spec         { return Spec{Kind: KindHTTP, Port: port} }
func ICMP() Spec                 { return Spec{Kind: KindICMP} }
func DNS(recordType string) Spec { return Spec{Kind: KindDNS, RecordType: strings.ToUpper(recordType)} }
func DoH(recordType, edns string) Spec {
	return Spec{Kind: KindDoH, RecordType: strings.ToUpper(recordType), Source: edns}
}

func (s Spec) String() string {
	switch s.Kind {
	case KindTCP, KindTLS, KindHTTP:
		return string(s.Kind) + ":" + strconv.Itoa(s.Port)
	case KindDNS:
		return string(s.Kind) + ":" + s.RecordType
	case KindDoH:
		if s.Source == "" {
			return string(s.Kind) + ":" + s.RecordType
		}
		return string(s.Kind) + ":" + s.RecordType + "@" + s.Source
	default:
		return string(s.Kind)
	}
}

// Validate rejects specs that can never be executed. It never does I/O.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindTCP, KindTLS, KindHTTP:
		if s.Port < 1 || s.Port > 65535 {
			return &Error{Class: ClassInput, Reason: ReasonInvalidSpec, Err: fmt.Errorf("port %d out of range", s.Port)}
		}
	case KindDNS, KindDoH:
		if !supportedRecordTypes[s.RecordType] {
			return &Error{Class: ClassInput, Reason: ReasonUnsupportedType, Err: fmt.Errorf("unsupported record type %q", s.RecordType)}
		}
	case KindICMP:
	default:
		return &Error{Class: ClassInput, Reason: ReasonUnknownKind, Err: fmt.Errorf("unknown probe kind %q", s.Kind)}
	}
	return nil
}

func (s Spec) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Spec) UnmarshalText(b []byte) error {
	p, err := ParseSpec(string(b))
	if err != nil {
		return err
	}
	*s = p
	return nil
}

// ParseSpec reads the text form of a Spec. Ports default to 80 for tcp,
// 443 for tls and http; record types default to A.
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	kind, arg, _ := strings.Cut(raw, ":")
	s := Spec{Kind: Kind(strings.ToLower(kind))}

	switch s.Kind {
	case KindTCP, KindTLS, KindHTTP:
		s.Port = 443
		if s.Kind == KindTCP {
			s.Port = 80
		}
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return Spec{}, fmt.Errorf("parse spec %q: bad port: %w", raw, err)
			}
			s.Port = n
		}
	case KindDNS:
		s.RecordType = "A"
		if arg != "" {
			s.RecordType = strings.ToUpper(arg)
		}
	case KindDoH:
		rt, src, _ := strings.Cut(arg, "@")
		s.RecordType = "A"
		if rt != "" {
			s.RecordType = strings.ToUpper(rt)
		}
		s.Source = src
	case KindICMP:
	default:
		return Spec{}, fmt.Errorf("parse spec %q: unknown kind", raw)
	}
	if err := s.Validate(); err != nil {
		return Spec{}, fmt.Errorf("parse spec %q: %w", raw, err)
	}
	return s, nil
}

// ParseSpecs parses a comma separated list, e.g. "tcp:80,dns:A,tls".
func ParseSpecs(raw string) ([]Spec, error) {
	var out []Spec
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseSpec(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Key identifies a cached result. Targets are not canonicalised: "Example.com"
// and "example.com." are different keys.
type Key struct {
	Spec   Spec
	Target string
}

func (k Key) String() string { return k.Spec.String() + "|" + k.Target }
