package probe

import (
	"context"
	"fmt"
	"time"
)

// DoHQuerier asks a DNS-over-HTTPS provider for one record type, optionally
// pinned to an EDNS client subnet.
type DoHQuerier interface {
	Resolve(ctx context.Context, name, recordType, ednsSubnet string) (status int, answers []DoHAnswer, err error)
}

// DoHProbe reports what a public resolver answers for the target as seen from
// the subnet in Spec.Source.
type DoHProbe struct {
	Client DoHQuerier
}

func NewDoHProbe(c DoHQuerier) *DoHProbe {
	return &DoHProbe{Client: c}
}

func (p *DoHProbe) Execute(ctx context.Context, target string, spec Spec) Result {
	start := time.Now()
	status, answers, err := p.Client.Resolve(ctx, target, spec.RecordType, spec.Source)
	elapsed := time.Since(start)
	if err != nil {
		class, reason := Classify(ctx, err)
		if class == ClassNetwork && reason == ReasonUnreachable {
			reason = ReasonResolverError
		}
		return Failure(class, reason, err.Error(), elapsed)
	}

	payload := &DoHPayload{EDNS: spec.Source, Status: status, Answers: answers}
	if payload.Answers == nil {
		payload.Answers = []DoHAnswer{}
	}
	// rcode 0 is NOERROR; anything else (NXDOMAIN=3, SERVFAIL=2) is a failed lookup
	if status != 0 {
		res := Failure(ClassNetwork, ReasonResolutionFailed, fmt.Sprintf("rcode %d", status), elapsed)
		res.DoH = payload
		return res
	}
	res := Success(elapsed)
	res.DoH = payload
	return res
}
