package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

func TestICMPProbe_UnavailableWithoutSockets(t *testing.T) {
	p := NewICMPProbe(&fakeResolver{})
	p.Listen = func(network, address string) (*icmp.PacketConn, error) {
		return nil, errors.New("operation not permitted")
	}
	out := Run(context.Background(), p, "127.0.0.1", ICMP(), time.Second)
	if out.OK || out.Reason != ReasonICMPUnavailable {
		t.Fatalf("want icmp_unavailable, got %+v", out)
	}
}

func TestICMPProbe_RejectsIPv6Literal(t *testing.T) {
	out := Run(context.Background(), NewICMPProbe(&fakeResolver{}), "::1", ICMP(), time.Second)
	if out.OK || out.Class != ClassInput {
		t.Fatalf("want input failure, got %+v", out)
	}
}

func TestMatchEchoReply(t *testing.T) {
	reply := func(id, seq int) []byte {
		m := icmp.Message{Type: ipv4.ICMPTypeEchoReply, Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("x")}}
		b, err := m.Marshal(nil)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return b
	}
	if !matchEchoReply(reply(7, 9), 7, 9, true) {
		t.Fatalf("exact reply should match")
	}
	if matchEchoReply(reply(8, 9), 7, 9, true) {
		t.Fatalf("foreign id should not match on raw sockets")
	}
	if !matchEchoReply(reply(8, 9), 7, 9, false) {
		t.Fatalf("datagram sockets ignore the id")
	}
	if matchEchoReply(reply(7, 10), 7, 9, false) {
		t.Fatalf("sequence must match")
	}
}
