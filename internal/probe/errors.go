package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"syscall"
)

// Class groups failures by where they come from.
type Class string

const (
	ClassInput    Class = "input"
	ClassTimeout  Class = "timeout"
	ClassNetwork  Class = "network"
	ClassParse    Class = "parse"
	ClassInternal Class = "internal"
	ClassCanceled Class = "canceled"
)

// Machine readable failure reasons.
const (
	ReasonEmptyTarget       = "empty_target"
	ReasonEmptyInput        = "empty_input"
	ReasonUnsupportedType   = "unsupported_type"
	ReasonInvalidSpec       = "invalid_spec"
	ReasonUnknownKind       = "unknown_kind"
	ReasonTimeout           = "timeout"
	ReasonCanceled          = "canceled"
	ReasonRefused           = "connection_refused"
	ReasonUnreachable       = "unreachable"
	ReasonResolutionFailed  = "resolution_failed"
	ReasonNoRecords         = "no_records"
	ReasonHandshakeFailed   = "handshake_failed"
	ReasonNoCertificate     = "no_certificate"
	ReasonParseError        = "parse_error"
	ReasonHTTPError         = "http_error"
	ReasonHTTPStatus        = "http_status"
	ReasonICMPUnavailable   = "icmp_unavailable"
	ReasonNoReply           = "no_reply"
	ReasonResolverError     = "resolver_error"
	ReasonInternal          = "internal_error"
	ReasonProbeNotAvailable = "probe_not_registered"
)

// Error is a classified probe failure.
type Error struct {
	Class  Class
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps a transport error onto the taxonomy. ctx is the probe's own
// context: a fired deadline is a timeout even when the transport reports
// something less specific.
func Classify(ctx context.Context, err error) (Class, string) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class, pe.Reason
	}
	if ctx != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return ClassTimeout, ReasonTimeout
		case context.Canceled:
			return ClassCanceled, ReasonCanceled
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ClassTimeout, ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled, ReasonCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ClassTimeout, ReasonTimeout
		}
		return ClassNetwork, ReasonResolutionFailed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout, ReasonTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ClassNetwork, ReasonRefused
	}
	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return ClassNetwork, ReasonHandshakeFailed
	}
	return ClassNetwork, ReasonUnreachable
}
