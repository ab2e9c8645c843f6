package session

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/wayfarer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func sampleSession(now time.Time) *models.Session {
	s := models.NewSession("s-1", now)
	s.Language = "ar"
	s.Slots["city"] = "Luxor"
	s.Dialog = models.DialogState{
		State:        models.StateConfirming,
		Intent:       "book_tour",
		PendingSlot:  "date_range",
		PendingValue: "2026-10-15/2026-10-17",
	}
	s.Append(
		models.Turn{
			Role:   models.RoleUser,
			Text:   "book a tour in Luxor",
			Intent: "book_tour",
			Entities: []models.Entity{{
				Type: models.EntityCity, Value: "Luxor", Confidence: 0.95,
				Span: models.Span{Start: 15, End: 20, Text: "Luxor"},
			}},
			Timestamp: now,
		},
		models.Turn{
			Role:      models.RoleAssistant,
			Text:      "When would you like to go?",
			Action:    models.ActionAskSlot,
			Degraded:  true,
			Timestamp: now,
		},
	)
	return s
}

func TestMemoryStoreRoundTripsAllFields(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(time.Minute).WithClock(clock.now)

	in := sampleSession(clock.t)
	require.NoError(t, store.Set(ctx, in))
	assert.Equal(t, int64(1), in.Version)

	out, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in, out)
}

func TestMemoryStoreSlidingTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(time.Minute).WithClock(clock.now)

	require.NoError(t, store.Set(ctx, models.NewSession("s-1", clock.t)))

	clock.advance(50 * time.Second)
	require.NoError(t, store.Touch(ctx, "s-1"))

	clock.advance(50 * time.Second)
	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.NotNil(t, got, "touch should have extended the TTL")

	clock.advance(61 * time.Second)
	got, err = store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Nil(t, got, "session should expire after inactivity")

	assert.ErrorIs(t, store.Touch(ctx, "s-1"), ErrNotFound)
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	require.NoError(t, store.Set(ctx, models.NewSession("s-1", time.Now())))

	a, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	b, err := store.Get(ctx, "s-1")
	require.NoError(t, err)

	a.Slots["city"] = "Aswan"
	require.NoError(t, store.Set(ctx, a))

	b.Slots["city"] = "Luxor"
	assert.ErrorIs(t, store.Set(ctx, b), ErrVersionConflict)
	assert.Equal(t, int64(1), b.Version, "failed write must not bump the caller's version")

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Aswan", got.Slots["city"])
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	s := models.NewSession("s-1", time.Now())
	require.NoError(t, store.Set(ctx, s))
	s.Slots["city"] = "Cairo"

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, got.Slots, "mutating the caller's copy must not change the stored session")
}

func TestMemoryStoreValidation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	assert.ErrorIs(t, store.Set(ctx, nil), ErrInvalidSession)
	assert.ErrorIs(t, store.Set(ctx, &models.Session{}), ErrInvalidSession)
	assert.NoError(t, store.Delete(ctx, "missing"))

	got, err := store.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}
