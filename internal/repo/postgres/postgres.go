package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/netprobe/internal/domain"
	"github.com/hamed0406/netprobe/internal/repo"
)

//go:embed schema.sql
var schemaSQL string

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("schema_applied")
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ---- TargetStore ----

func (s *Store) Add(ctx context.Context, t *domain.Target) error {
	if t.ID == "" {
		t.ID = domain.NewTargetID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	probes := t.Probes
	if probes == nil {
		probes = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO targets (id, host, probes, created_at)
		 VALUES ($1, $2, $3, $4)`,
		string(t.ID), t.Host, probes, t.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repo.ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, host, probes, created_at
		   FROM targets
		  ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		var (
			t  domain.Target
			id string
		)
		if err := rows.Scan(&id, &t.Host, &t.Probes, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		t.ID = domain.TargetID(id)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetByHost(ctx context.Context, host string) (*domain.Target, error) {
	var (
		t  domain.Target
		id string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, host, probes, created_at FROM targets WHERE lower(host) = lower($1)`, host,
	).Scan(&id, &t.Host, &t.Probes, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	t.ID = domain.TargetID(id)
	return &t, nil
}

// ---- ResultStore ----

func (s *Store) Append(ctx context.Context, recs ...domain.CheckRecord) error {
	if len(recs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range recs {
		if r.CheckedAt.IsZero() {
			r.CheckedAt = time.Now().UTC()
		}
		b.Queue(
			`INSERT INTO results
			   (run_id, target_id, host, probe, ok, class, reason, elapsed_ms, days_remaining, attempt, checked_at)
			 VALUES
			   ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			r.RunID, string(r.TargetID), r.Host, r.Probe, r.OK, r.Class, r.Reason,
			r.ElapsedMS, r.DaysRemaining, r.Attempt, r.CheckedAt,
		)
	}
	br := s.pool.SendBatch(ctx, b)
	defer br.Close()
	for range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}
	return nil
}

func (s *Store) Latest(ctx context.Context) ([]repo.LatestRow, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (r.target_id, r.probe)
       r.target_id,
       r.host,
       r.probe,
       r.ok,
       r.reason,
       r.elapsed_ms,
       r.days_remaining,
       r.checked_at
  FROM results r
 ORDER BY r.target_id, r.probe, r.checked_at DESC, r.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest: %w", err)
	}
	defer rows.Close()

	var out []repo.LatestRow
	for rows.Next() {
		var row repo.LatestRow
		if err := rows.Scan(&row.TargetID, &row.Host, &row.Probe, &row.OK, &row.Reason,
			&row.ElapsedMS, &row.DaysRemaining, &row.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan latest: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
