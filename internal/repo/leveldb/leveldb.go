// Package leveldb is an embedded, single-process store for running the API
// without a database server.
package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/hamed0406/netprobe/internal/domain"
	"github.com/hamed0406/netprobe/internal/repo"
)

// Key layout:
//
//	t:<id>               target JSON
//	h:<lower(host)>      target id
//	r:<seq, 8 bytes BE>  check record JSON, append only
//	l:<target>|<probe>   newest check record JSON
//	a:<alert key>        alert record JSON
const (
	prefixTarget = "t:"
	prefixHost   = "h:"
	prefixResult = "r:"
	prefixLatest = "l:"
	prefixAlert  = "a:"
)

type Store struct {
	db *leveldb.DB

	mu  sync.Mutex // serializes read-modify-write sequences
	seq uint64
}

func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.loadSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) loadSeq() error {
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefixResult)), nil)
	defer it.Release()
	if it.Last() {
		k := it.Key()[len(prefixResult):]
		if len(k) == 8 {
			s.seq = binary.BigEndian.Uint64(k)
		}
	}
	return it.Error()
}

// ---- TargetStore ----

func (s *Store) Add(ctx context.Context, t *domain.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hostKey := []byte(prefixHost + strings.ToLower(t.Host))
	ok, err := s.db.Has(hostKey, nil)
	if err != nil {
		return fmt.Errorf("lookup host: %w", err)
	}
	if ok {
		return repo.ErrExists
	}
	if t.ID == "" {
		t.ID = domain.NewTargetID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixTarget+string(t.ID)), b)
	batch.Put(hostKey, []byte(t.ID))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

// List returns targets oldest first.
func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefixTarget)), nil)
	defer it.Release()

	var out []domain.Target
	for it.Next() {
		var t domain.Target
		if err := json.Unmarshal(it.Value(), &t); err != nil {
			return nil, fmt.Errorf("decode target %s: %w", it.Key(), err)
		}
		out = append(out, t)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetByHost(ctx context.Context, host string) (*domain.Target, error) {
	id, err := s.db.Get([]byte(prefixHost+strings.ToLower(host)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b, err := s.db.Get([]byte(prefixTarget+string(id)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t domain.Target
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ---- ResultStore ----

func (s *Store) Append(ctx context.Context, recs ...domain.CheckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	newest := make(map[string]domain.CheckRecord)
	seq := s.seq
	for _, r := range recs {
		seq++
		r.ID = int64(seq)
		if r.CheckedAt.IsZero() {
			r.CheckedAt = time.Now().UTC()
		}
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		batch.Put(resultKey(seq), b)

		lk := prefixLatest + repo.AlertKey(string(r.TargetID), r.Probe)
		cur, ok := newest[lk]
		if !ok {
			if stored, found, err := s.getRecord([]byte(lk)); err != nil {
				return err
			} else if found {
				cur, ok = stored, true
			}
		}
		if !ok || !r.CheckedAt.Before(cur.CheckedAt) {
			newest[lk] = r
		}
	}
	for k, r := range newest {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		batch.Put([]byte(k), b)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("insert results: %w", err)
	}
	s.seq = seq
	return nil
}

func (s *Store) getRecord(key []byte) (domain.CheckRecord, bool, error) {
	var r domain.CheckRecord
	b, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	return r, true, json.Unmarshal(b, &r)
}

func (s *Store) Latest(ctx context.Context) ([]repo.LatestRow, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefixLatest)), nil)
	defer it.Release()

	var out []repo.LatestRow
	for it.Next() {
		var r domain.CheckRecord
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("decode latest %s: %w", it.Key(), err)
		}
		out = append(out, repo.RowFrom(r))
	}
	return out, it.Error()
}

// ---- AlertStore ----

type alertValue struct {
	LastState  bool       `json:"last_state"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
}

func (s *Store) Get(ctx context.Context, key string) (*repo.AlertRecord, error) {
	b, err := s.db.Get([]byte(prefixAlert+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v alertValue
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &repo.AlertRecord{Key: key, LastState: v.LastState, LastSentAt: v.LastSentAt}, nil
}

func (s *Store) Set(ctx context.Context, key string, lastState bool, sentAt time.Time) error {
	v := alertValue{LastState: lastState}
	if !sentAt.IsZero() {
		v.LastSentAt = &sentAt
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(prefixAlert+key), b, nil)
}

func resultKey(seq uint64) []byte {
	k := make([]byte, len(prefixResult)+8)
	copy(k, prefixResult)
	binary.BigEndian.PutUint64(k[len(prefixResult):], seq)
	return k
}

var _ repo.Store = (*Store)(nil)
