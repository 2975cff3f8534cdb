package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/netprobe/internal/probe"
)

type TargetID string

func NewTargetID() TargetID { return TargetID(uuid.NewString()) }

// Target is a watched host and the probes run against it on every pass.
type Target struct {
	ID        TargetID  `json:"id"`
	Host      string    `json:"host"`
	Probes    []string  `json:"probes"`
	CreatedAt time.Time `json:"created_at"`
}

// Specs parses the probe list.
func (t Target) Specs() ([]probe.Spec, error) {
	return probe.ParseSpecs(strings.Join(t.Probes, ","))
}

// CheckRecord is one stored probe outcome.
type CheckRecord struct {
	ID            int64     `json:"id,omitempty"`
	RunID         string    `json:"run_id"`
	TargetID      TargetID  `json:"target_id"`
	Host          string    `json:"host"`
	Probe         string    `json:"probe"`
	OK            bool      `json:"ok"`
	Class         string    `json:"class,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	ElapsedMS     float64   `json:"elapsed_ms"`
	DaysRemaining *int      `json:"days_remaining,omitempty"`
	Attempt       int       `json:"attempt"`
	CheckedAt     time.Time `json:"checked_at"`
}

// NewCheckRecord flattens a probe result. DaysRemaining is only set for
// results carrying a certificate.
func NewCheckRecord(runID string, t Target, spec probe.Spec, res probe.Result, attempt int, at time.Time) CheckRecord {
	rec := CheckRecord{
		RunID:     runID,
		TargetID:  t.ID,
		Host:      t.Host,
		Probe:     spec.String(),
		OK:        res.OK,
		Class:     string(res.Class),
		Reason:    res.Reason,
		ElapsedMS: res.ElapsedMS,
		Attempt:   attempt,
		CheckedAt: at.UTC(),
	}
	if res.TLS != nil && res.TLS.Validity.DaysRemaining != nil {
		d := *res.TLS.Validity.DaysRemaining
		rec.DaysRemaining = &d
	}
	return rec
}
