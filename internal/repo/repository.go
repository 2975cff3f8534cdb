package repo

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/netprobe/internal/domain"
)

// ErrExists is returned by TargetStore.Add for a host that is already watched.
var ErrExists = errors.New("target already exists")

// Ports (interfaces); the adapters live in subpackages.
type TargetStore interface {
	Add(ctx context.Context, t *domain.Target) error
	List(ctx context.Context) ([]domain.Target, error)
	// GetByHost returns nil, nil when the host is not watched.
	GetByHost(ctx context.Context, host string) (*domain.Target, error)
}

type ResultStore interface {
	Append(ctx context.Context, recs ...domain.CheckRecord) error
	// Latest returns the newest record per (target, probe).
	Latest(ctx context.Context) ([]LatestRow, error)
}

// LatestRow is the newest outcome of one probe of one target.
type LatestRow struct {
	TargetID      string    `json:"target_id"`
	Host          string    `json:"host"`
	Probe         string    `json:"probe"`
	OK            bool      `json:"ok"`
	Reason        string    `json:"reason,omitempty"`
	ElapsedMS     float64   `json:"elapsed_ms"`
	DaysRemaining *int      `json:"days_remaining,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Store is everything the API process needs from persistence.
type Store interface {
	TargetStore
	ResultStore
	AlertStore
	Close() error
}

// LatestFrom reduces records to the newest one per (target, probe).
func LatestFrom(recs []domain.CheckRecord) []LatestRow {
	type key struct{ target, probe string }
	newest := make(map[key]domain.CheckRecord)
	order := make([]key, 0)
	for _, r := range recs {
		k := key{string(r.TargetID), r.Probe}
		cur, ok := newest[k]
		if !ok {
			order = append(order, k)
		}
		if !ok || !r.CheckedAt.Before(cur.CheckedAt) {
			newest[k] = r
		}
	}
	out := make([]LatestRow, 0, len(order))
	for _, k := range order {
		out = append(out, RowFrom(newest[k]))
	}
	return out
}

func RowFrom(r domain.CheckRecord) LatestRow {
	return LatestRow{
		TargetID:      string(r.TargetID),
		Host:          r.Host,
		Probe:         r.Probe,
		OK:            r.OK,
		Reason:        r.Reason,
		ElapsedMS:     r.ElapsedMS,
		DaysRemaining: r.DaysRemaining,
		CheckedAt:     r.CheckedAt,
	}
}
