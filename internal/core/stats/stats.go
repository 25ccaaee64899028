// Package stats persists prediction verification outcomes per stats key and turns them
// into confidence scores.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Queries defines the database operations the store needs.
// Implemented by *db.Queries.
type Queries interface {
	GetContext(ctx context.Context, name string, dest any, args ...any) error
	SelectContext(ctx context.Context, name string, dest any, args ...any) error
	ExecContext(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Stat is the verification history of one stats key.
type Stat struct {
	TriggerKey string    `db:"trigger_key" json:"triggerKey"`
	Hits       int64     `db:"hits" json:"hits"`
	Misses     int64     `db:"misses" json:"misses"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// Confidence is the smoothed hit rate (hits+1)/(hits+misses+2): 0.5 for an unseen key,
// approaching the observed rate as samples accumulate.
func (s Stat) Confidence() float64 {
	return float64(s.Hits+1) / float64(s.Hits+s.Misses+2)
}

// Store records outcomes.
type Store interface {
	Record(ctx context.Context, key string, hit bool) error
	Get(ctx context.Context, key string) (Stat, error)
	List(ctx context.Context, limit int) ([]Stat, error)
}

// SQLStore keeps stats in the prediction_stats table.
type SQLStore struct {
	queries Queries
}

// NewSQLStore creates a store over queries.
func NewSQLStore(queries Queries) (*SQLStore, error) {
	if queries == nil {
		return nil, fmt.Errorf("queries cannot be nil")
	}
	return &SQLStore{queries: queries}, nil
}

// Record adds one outcome for key.
func (s *SQLStore) Record(ctx context.Context, key string, hit bool) error {
	var hits, misses int64
	if hit {
		hits = 1
	} else {
		misses = 1
	}
	if _, err := s.queries.ExecContext(ctx, "record-prediction", key, hits, misses, time.Now().UTC()); err != nil {
		return fmt.Errorf("record %s: %w", key, err)
	}
	return nil
}

// Get returns the stat for key; an unseen key yields a zero Stat.
func (s *SQLStore) Get(ctx context.Context, key string) (Stat, error) {
	var st Stat
	err := s.queries.GetContext(ctx, "get-prediction-stats", &st, key)
	if errors.Is(err, sql.ErrNoRows) {
		return Stat{TriggerKey: key}, nil
	}
	if err != nil {
		return Stat{}, fmt.Errorf("get %s: %w", key, err)
	}
	return st, nil
}

// List returns up to limit stats, most sampled first.
func (s *SQLStore) List(ctx context.Context, limit int) ([]Stat, error) {
	var out []Stat
	if err := s.queries.SelectContext(ctx, "list-prediction-stats", &out, limit); err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	return out, nil
}

// MemoryStore keeps stats in process memory; used when no database is configured.
type MemoryStore struct {
	mu    sync.Mutex
	stats map[string]Stat
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stats: make(map[string]Stat)}
}

// Record adds one outcome for key.
func (m *MemoryStore) Record(_ context.Context, key string, hit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats[key]
	st.TriggerKey = key
	if hit {
		st.Hits++
	} else {
		st.Misses++
	}
	st.UpdatedAt = time.Now().UTC()
	m.stats[key] = st
	return nil
}

// Get returns the stat for key; an unseen key yields a zero Stat.
func (m *MemoryStore) Get(_ context.Context, key string) (Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[key]
	if !ok {
		return Stat{TriggerKey: key}, nil
	}
	return st, nil
}

// List returns up to limit stats, most sampled first.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Stat, error) {
	m.mu.Lock()
	out := make([]Stat, 0, len(m.stats))
	for _, st := range m.stats {
		out = append(out, st)
	}
	m.mu.Unlock()

	sortStats(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortStats(out []Stat) {
	sort.Slice(out, func(i, j int) bool {
		if ni, nj := out[i].Hits+out[i].Misses, out[j].Hits+out[j].Misses; ni != nj {
			return ni > nj
		}
		return out[i].TriggerKey < out[j].TriggerKey
	})
}
