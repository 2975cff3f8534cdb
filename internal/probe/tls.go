package probe

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"
)

// TLSProbe completes a handshake and reports the peer's leaf certificate.
// The chain is not verified.
type TLSProbe struct {
	Dialer Dialer
	Now    func() time.Time
}

func NewTLSProbe(d Dialer) *TLSProbe {
	if d == nil {
		d = &net.Dialer{}
	}
	return &TLSProbe{Dialer: d, Now: time.Now}
}

func (p *TLSProbe) Execute(ctx context.Context, target string, spec Spec) Result {
	addr := net.JoinHostPort(target, strconv.Itoa(spec.Port))
	cfg := &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	if net.ParseIP(target) == nil {
		cfg.ServerName = target
	}

	start := time.Now()
	raw, err := p.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return FromError(ctx, err, time.Since(start))
	}
	conn := tls.Client(raw, cfg)
	defer conn.Close()

	if err := conn.HandshakeContext(ctx); err != nil {
		elapsed := time.Since(start)
		class, reason := Classify(ctx, err)
		if class == ClassNetwork {
			reason = ReasonHandshakeFailed
		}
		return Failure(class, reason, err.Error(), elapsed)
	}
	elapsed := time.Since(start)

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return Failure(ClassNetwork, ReasonNoCertificate, "peer presented no certificate", elapsed)
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	res := Success(elapsed)
	res.TLS = CertificateInfoFrom(certs[0], now())
	return res
}
