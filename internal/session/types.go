package session

import "time"

// CreateRequest defines payload for creating a new conversation session.
// Zero capacity fields fall back to the service defaults.
type CreateRequest struct {
	UserID         string `json:"user_id"`
	PersonaID      string `json:"persona_id"`
	CharsPerLine   int    `json:"chars_per_line,omitempty"`
	LinesPerBubble int    `json:"lines_per_bubble,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	PersonaID       string    `json:"persona_id"`
	CharsPerLine    int       `json:"chars_per_line"`
	LinesPerBubble  int       `json:"lines_per_bubble"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
