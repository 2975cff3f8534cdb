package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hamed0406/netprobe/internal/domain"
	"github.com/hamed0406/netprobe/internal/repo"
)

// DefaultMaxRecords bounds the in-memory result history; older records are
// dropped first.
const DefaultMaxRecords = 10000

type Store struct {
	mu         sync.RWMutex
	targets    map[domain.TargetID]*domain.Target
	order      []domain.TargetID
	results    []domain.CheckRecord
	alerts     map[string]repo.AlertRecord
	maxRecords int
	nextID     int64
}

func New() *Store {
	return &Store{
		targets:    make(map[domain.TargetID]*domain.Target),
		results:    make([]domain.CheckRecord, 0, 128),
		alerts:     make(map[string]repo.AlertRecord),
		maxRecords: DefaultMaxRecords,
	}
}

// ---- TargetStore ----

func (m *Store) Add(ctx context.Context, t *domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.targets {
		if strings.EqualFold(cur.Host, t.Host) {
			return repo.ErrExists
		}
	}
	if t.ID == "" {
		t.ID = domain.NewTargetID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	cp.Probes = append([]string(nil), t.Probes...)
	m.targets[t.ID] = &cp
	m.order = append(m.order, t.ID)
	return nil
}

func (m *Store) List(ctx context.Context) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.targets[id])
	}
	return out, nil
}

func (m *Store) GetByHost(ctx context.Context, host string) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if t := m.targets[id]; strings.EqualFold(t.Host, host) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

// ---- ResultStore ----

func (m *Store) Append(ctx context.Context, recs ...domain.CheckRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.nextID++
		r.ID = m.nextID
		if r.CheckedAt.IsZero() {
			r.CheckedAt = time.Now().UTC()
		}
		m.results = append(m.results, r)
	}
	if over := len(m.results) - m.maxRecords; over > 0 {
		m.results = append(m.results[:0:0], m.results[over:]...)
	}
	return nil
}

func (m *Store) Latest(ctx context.Context) ([]repo.LatestRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return repo.LatestFrom(m.results), nil
}

// ---- AlertStore ----

func (m *Store) Get(ctx context.Context, key string) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) Set(ctx context.Context, key string, lastState bool, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := repo.AlertRecord{Key: key, LastState: lastState}
	if !sentAt.IsZero() {
		ts := sentAt
		r.LastSentAt = &ts
	}
	m.alerts[key] = r
	return nil
}

func (m *Store) Close() error { return nil }

var _ repo.Store = (*Store)(nil)
