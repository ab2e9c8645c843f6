package session

import (
	"context"
	"sync"
	"time"

	"github.com/raphaelgruber/wayfarer/internal/models"
)

type memoryEntry struct {
	data    []byte
	version int64
	expires time.Time
}

// MemoryStore is an in-process Store. Sessions are stored encoded so callers
// never share memory with the stored copy.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	ttl      time.Duration
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a memory store. A non-positive ttl defaults to 30 minutes.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock replaces the time source (for tests).
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// live returns the entry if present and unexpired. Caller must hold mu.
func (s *MemoryStore) live(id string) (memoryEntry, bool) {
	e, ok := s.sessions[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expires) {
		delete(s.sessions, id)
		return memoryEntry{}, false
	}
	return e, true
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(id)
	if !ok {
		return nil, nil
	}
	e.expires = s.now().Add(s.ttl)
	s.sessions[id] = e
	return decode(e.data)
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, sess *models.Session) error {
	if err := validate(sess); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.live(sess.ID); ok && e.version != sess.Version {
		return ErrVersionConflict
	}

	sess.Version++
	data, err := encode(sess)
	if err != nil {
		sess.Version--
		return err
	}
	s.sessions[sess.ID] = memoryEntry{
		data:    data,
		version: sess.Version,
		expires: s.now().Add(s.ttl),
	}
	return nil
}

// Touch implements Store.
func (s *MemoryStore) Touch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(id)
	if !ok {
		return ErrNotFound
	}
	e.expires = s.now().Add(s.ttl)
	s.sessions[id] = e
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]memoryEntry)
	return nil
}
