// Package session persists per-conversation state with sliding-window TTL.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/raphaelgruber/wayfarer/internal/models"
)

// Sentinel errors for session store operations.
var (
	// ErrNotFound indicates the session does not exist or has expired.
	ErrNotFound = errors.New("session not found")

	// ErrVersionConflict indicates another writer saved the session since it
	// was loaded. Callers reload and reapply their change.
	ErrVersionConflict = errors.New("session version conflict")

	// ErrInvalidSession indicates a nil session or empty id.
	ErrInvalidSession = errors.New("invalid session")

	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("session store unavailable")
)

// Store holds sessions keyed by id. Every successful Get, Set and Touch
// restarts the inactivity TTL.
type Store interface {
	// Get returns the session, or nil (not an error) when absent or expired.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Set persists s with optimistic locking: s.Version must match the
	// stored version (any version is accepted when nothing is stored). On
	// success s.Version is incremented.
	Set(ctx context.Context, s *models.Session) error

	// Touch refreshes the TTL. Returns ErrNotFound when absent.
	Touch(ctx context.Context, id string) error

	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

func validate(s *models.Session) error {
	if s == nil {
		return fmt.Errorf("%w: session is nil", ErrInvalidSession)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: session.ID is empty", ErrInvalidSession)
	}
	return nil
}

func encode(s *models.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return data, nil
}

func decode(data []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Slots == nil {
		s.Slots = map[string]string{}
	}
	if s.Turns == nil {
		s.Turns = []models.Turn{}
	}
	return &s, nil
}
