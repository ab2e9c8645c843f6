package knowledge

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

// MemoryStore is an in-process Store with exact cosine similarity.
// Used for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.Record
	now     func() time.Time
	down    error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding records.
func NewMemoryStore(records []models.Record) *MemoryStore {
	s := &MemoryStore{records: make(map[string]models.Record, len(records)), now: time.Now}
	for _, r := range records {
		s.records[key(r.Class, r.ID)] = cloneRecord(r)
	}
	return s
}

func key(class models.EntityClass, id string) string {
	return string(class) + ":" + id
}

func cloneRecord(r models.Record) models.Record {
	r.Embedding = slices.Clone(r.Embedding)
	return r
}

// SetUnavailable makes every call fail with err until called with nil.
func (s *MemoryStore) SetUnavailable(err error) {
	s.mu.Lock()
	s.down = err
	s.mu.Unlock()
}

// Upsert inserts or replaces a record.
func (s *MemoryStore) Upsert(_ context.Context, r models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return s.down
	}
	s.records[key(r.Class, r.ID)] = cloneRecord(r)
	return nil
}

func (s *MemoryStore) sorted(class models.EntityClass, f models.Filters) []models.Record {
	var out []models.Record
	for _, r := range s.records {
		if r.Class == class && f.Match(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b models.Record) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Filter implements Store.
func (s *MemoryStore) Filter(ctx context.Context, class models.EntityClass, f models.Filters) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down != nil {
		return nil, s.down
	}
	recs := s.sorted(class, f)
	for i := range recs {
		recs[i] = cloneRecord(recs[i])
	}
	return recs, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, class models.EntityClass, id string) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down != nil {
		return nil, s.down
	}
	r, ok := s.records[key(class, id)]
	if !ok {
		return nil, nil
	}
	r = cloneRecord(r)
	return &r, nil
}

// VectorSearch implements Store.
func (s *MemoryStore) VectorSearch(ctx context.Context, class models.EntityClass, f models.Filters, vec []float32, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down != nil {
		return nil, s.down
	}
	var hits []Hit
	for _, r := range s.sorted(class, f) {
		if len(r.Embedding) == 0 {
			continue
		}
		hits = append(hits, Hit{ID: r.ID, Similarity: embedding.Cosine(vec, r.Embedding)})
	}
	slices.SortStableFunc(hits, func(a, b Hit) int { return cmp.Compare(b.Similarity, a.Similarity) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// List implements Store. Records are ordered by class then id.
func (s *MemoryStore) List(ctx context.Context) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down != nil {
		return nil, s.down
	}
	out := make([]models.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, cloneRecord(r))
	}
	slices.SortFunc(out, func(a, b models.Record) int {
		if c := strings.Compare(string(a.Class), string(b.Class)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// UpdateEmbedding implements Store.
func (s *MemoryStore) UpdateEmbedding(_ context.Context, class models.EntityClass, id string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return s.down
	}
	k := key(class, id)
	r, ok := s.records[k]
	if !ok {
		return fmt.Errorf("update embedding %s: record not found", k)
	}
	r.Embedding = slices.Clone(vec)
	at := s.now()
	r.EmbeddedAt = &at
	s.records[k] = r
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.down
}
