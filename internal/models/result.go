package models

// MediaKind classifies a media reference.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaMap   MediaKind = "map"
)

// Media is an optional image or map reference attached to a response.
type Media struct {
	Kind    MediaKind `json:"kind"`
	URL     string    `json:"url"`
	Caption string    `json:"caption,omitempty"`
}

// TurnResult is returned to the caller of HandleTurn.
type TurnResult struct {
	Text        string   `json:"text"`
	SessionID   string   `json:"session_id"`
	Suggestions []string `json:"suggestions"`
	Media       []Media  `json:"media"`
	Degraded    bool     `json:"degraded"`

	Language string     `json:"language,omitempty"`
	Intent   string     `json:"intent,omitempty"`
	Action   ActionKind `json:"action,omitempty"`
	FastPath bool       `json:"fast_path,omitempty"`
}
