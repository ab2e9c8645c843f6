package models

import (
	"maps"
	"slices"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DialogStateName is a dialog state tracker state.
type DialogStateName string

const (
	StateIdle       DialogStateName = "idle"
	StateCollecting DialogStateName = "collecting"
	StateConfirming DialogStateName = "confirming"
	StateResolved   DialogStateName = "resolved"
)

// DialogState is the tracker's per-session frame. PendingValue holds a
// candidate awaiting confirmation; it is never part of Session.Slots until
// confirmed.
type DialogState struct {
	State        DialogStateName `json:"state"`
	Intent       string          `json:"intent,omitempty"`
	PendingSlot  string          `json:"pending_slot,omitempty"`
	PendingValue string          `json:"pending_value,omitempty"`
}

// Turn is one appended history entry. Immutable once appended.
type Turn struct {
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	Intent    string     `json:"intent,omitempty"`
	Entities  []Entity   `json:"entities,omitempty"`
	Action    ActionKind `json:"action,omitempty"`
	Degraded  bool       `json:"degraded,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Session is per-conversation state persisted by the session store.
type Session struct {
	ID         string            `json:"id"`
	Turns      []Turn            `json:"turns"`
	Language   string            `json:"language,omitempty"`
	Slots      map[string]string `json:"slots"`
	Dialog     DialogState       `json:"dialog"`
	CreatedAt  time.Time         `json:"created_at"`
	LastActive time.Time         `json:"last_active"`
	Version    int64             `json:"version"`
}

// NewSession creates an empty session in the Idle state.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		Turns:      []Turn{},
		Slots:      map[string]string{},
		Dialog:     DialogState{State: StateIdle},
		CreatedAt:  now,
		LastActive: now,
	}
}

// Clone returns a deep copy so a turn can mutate state without touching the
// stored value until it commits.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = slices.Clone(s.Turns)
	if c.Turns == nil {
		c.Turns = []Turn{}
	}
	c.Slots = maps.Clone(s.Slots)
	if c.Slots == nil {
		c.Slots = map[string]string{}
	}
	return &c
}

// Append adds turns to the history.
func (s *Session) Append(turns ...Turn) {
	s.Turns = append(s.Turns, turns...)
}
