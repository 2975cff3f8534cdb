package probe

import (
	"context"
	"time"
)

// Result is the outcome of one probe against one target. A successful result
// carries exactly one payload matching the Spec kind; a failed one carries a
// Class and a short Reason. ElapsedMS is measured from the moment the network
// operation started, on both paths.
type Result struct {
	OK        bool    `json:"ok"`
	Class     Class   `json:"class,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Message   string  `json:"message,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms"`

	TCP  *TCPPayload      `json:"tcp,omitempty"`
	DNS  *DNSPayload      `json:"dns,omitempty"`
	TLS  *CertificateInfo `json:"tls,omitempty"`
	HTTP *HTTPPayload     `json:"http,omitempty"`
	ICMP *ICMPPayload     `json:"icmp,omitempty"`
	DoH  *DoHPayload      `json:"doh,omitempty"`
}

type TCPPayload struct {
	Port int    `json:"port"`
	Addr string `json:"addr,omitempty"`
}

type DNSPayload struct {
	RecordType string   `json:"record_type"`
	Records    []string `json:"records"`
}

type HTTPPayload struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
}

type ICMPPayload struct {
	Addr  string  `json:"addr"`
	RTTMS float64 `json:"rtt_ms"`
}

type DoHPayload struct {
	EDNS    string      `json:"edns,omitempty"`
	Status  int         `json:"status"`
	Answers []DoHAnswer `json:"answers"`
}

type DoHAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"ttl"`
	Data string `json:"data"`
}

// Success starts a successful result; callers attach the payload.
func Success(elapsed time.Duration) Result {
	return Result{OK: true, ElapsedMS: ms(elapsed)}
}

// Failure builds a failed result.
func Failure(class Class, reason, msg string, elapsed time.Duration) Result {
	return Result{Class: class, Reason: reason, Message: msg, ElapsedMS: ms(elapsed)}
}

// FromError classifies err against the probe context.
func FromError(ctx context.Context, err error, elapsed time.Duration) Result {
	class, reason := Classify(ctx, err)
	return Failure(class, reason, err.Error(), elapsed)
}

func ms(d time.Duration) float64 { return d.Seconds() * 1000 }
