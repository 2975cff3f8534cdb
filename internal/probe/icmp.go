package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const protocolICMP = 1

var icmpSeq atomic.Uint32

// ICMPProbe sends one echo request. It prefers a raw socket and falls back to
// an unprivileged datagram socket; when neither can be opened it fails with
// icmp_unavailable so callers can fall back to a TCP check.
type ICMPProbe struct {
	Resolver DNSResolver
	Listen   func(network, address string) (*icmp.PacketConn, error)
}

func NewICMPProbe(r DNSResolver) *ICMPProbe {
	if r == nil {
		r = &net.Resolver{}
	}
	return &ICMPProbe{Resolver: r, Listen: icmp.ListenPacket}
}

func (p *ICMPProbe) Execute(ctx context.Context, target string, spec Spec) Result {
	start := time.Now()
	ip, err := p.resolve(ctx, target)
	if err != nil {
		return dnsFailure(ctx, err, time.Since(start))
	}

	conn, privileged, err := p.open()
	if err != nil {
		return Failure(ClassNetwork, ReasonICMPUnavailable, err.Error(), time.Since(start))
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(3 * time.Second)
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	id := os.Getpid() & 0xffff
	seq := int(icmpSeq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("netprobe")},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return Failure(ClassInternal, ReasonInternal, err.Error(), time.Since(start))
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if !privileged {
		dst = &net.UDPAddr{IP: ip}
	}
	sent := time.Now()
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return FromError(ctx, err, time.Since(start))
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			res := FromError(ctx, err, time.Since(start))
			if res.Reason == ReasonUnreachable {
				res.Reason = ReasonNoReply
			}
			return res
		}
		if matchEchoReply(buf[:n], id, seq, privileged) {
			rtt := time.Since(sent)
			res := Success(time.Since(start))
			res.ICMP = &ICMPPayload{Addr: hostOf(peer), RTTMS: ms(rtt)}
			return res
		}
	}
}

func (p *ICMPProbe) resolve(ctx context.Context, target string) (net.IP, error) {
	if ip := net.ParseIP(target); ip != nil {
		if ip.To4() == nil {
			return nil, &Error{Class: ClassInput, Reason: ReasonInvalidSpec, Err: errors.New("icmp probe supports IPv4 only")}
		}
		return ip, nil
	}
	ips, err := p.Resolver.LookupIP(ctx, "ip4", target)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &Error{Class: ClassNetwork, Reason: ReasonNoRecords, Err: fmt.Errorf("no IPv4 address for %s", target)}
	}
	return ips[0], nil
}

func (p *ICMPProbe) open() (*icmp.PacketConn, bool, error) {
	listen := p.Listen
	if listen == nil {
		listen = icmp.ListenPacket
	}
	conn, err := listen("ip4:icmp", "0.0.0.0")
	if err == nil {
		return conn, true, nil
	}
	conn, err2 := listen("udp4", "0.0.0.0")
	if err2 == nil {
		return conn, false, nil
	}
	return nil, false, fmt.Errorf("raw socket: %v; datagram socket: %w", err, err2)
}

// matchEchoReply checks that b is the reply to our request. Datagram sockets
// get their ID rewritten by the kernel, so only the sequence is compared there.
func matchEchoReply(b []byte, id, seq int, checkID bool) bool {
	m, err := icmp.ParseMessage(protocolICMP, b)
	if err != nil || m.Type != ipv4.ICMPTypeEchoReply {
		return false
	}
	echo, ok := m.Body.(*icmp.Echo)
	if !ok || echo.Seq != seq {
		return false
	}
	return !checkID || echo.ID == id
}

func hostOf(a net.Addr) string {
	switch v := a.(type) {
	case *net.IPAddr:
		return v.IP.String()
	case *net.UDPAddr:
		return v.IP.String()
	case nil:
		return ""
	}
	return a.String()
}
