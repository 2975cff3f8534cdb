package probe

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Dialer opens transport connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TCPProbe reports whether a TCP connection can be established. It sends and
// reads nothing.
type TCPProbe struct {
	Dialer Dialer
}

func NewTCPProbe(d Dialer) *TCPProbe {
	if d == nil {
		d = &net.Dialer{}
	}
	return &TCPProbe{Dialer: d}
}

func (p *TCPProbe) Execute(ctx context.Context, target string, spec Spec) Result {
	addr := net.JoinHostPort(target, strconv.Itoa(spec.Port))

	start := time.Now()
	conn, err := p.Dialer.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		return FromError(ctx, err, elapsed)
	}
	remote := ""
	if ra := conn.RemoteAddr(); ra != nil {
		remote = ra.String()
	}
	_ = conn.Close()

	res := Success(elapsed)
	res.TCP = &TCPPayload{Port: spec.Port, Addr: remote}
	return res
}
