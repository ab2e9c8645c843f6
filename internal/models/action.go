package models

// ActionKind is the dialog action decided for a turn.
type ActionKind string

const (
	ActionAskSlot  ActionKind = "ask_slot"
	ActionConfirm  ActionKind = "confirm"
	ActionAnswer   ActionKind = "answer"
	ActionClarify  ActionKind = "clarify"
	ActionFallback ActionKind = "fallback"
)

// SearchRequest describes the retrieval an answer action needs.
type SearchRequest struct {
	Class    EntityClass `json:"class"`
	Query    string      `json:"query"`
	Filters  Filters     `json:"filters"`
	RecordID string      `json:"record_id,omitempty"`
	TopK     int         `json:"top_k"`
}

// DialogAction is produced fresh each turn and never persisted.
type DialogAction struct {
	Kind    ActionKind `json:"kind"`
	Intent  string     `json:"intent,omitempty"`
	Slot    string     `json:"slot,omitempty"`
	Value   string     `json:"value,omitempty"`
	Options []string   `json:"options,omitempty"`
	// Reason qualifies ask_slot ("missing", "invalid", "rejected").
	Reason string `json:"reason,omitempty"`
	// Search is set on answer actions that need grounding data.
	Search *SearchRequest `json:"search,omitempty"`
	// Capabilities lists enrichment capabilities the answer may use.
	Capabilities []string `json:"capabilities,omitempty"`
	// Slots is a snapshot of confirmed slot values for rendering.
	Slots map[string]string `json:"slots,omitempty"`
	// Transitions traces the states visited this turn.
	Transitions []DialogStateName `json:"transitions,omitempty"`
}
