package transcript

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("transcript not found")

// Reply is a finished entity reply as it was shown in bubbles.
type Reply struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	EntityID    string    `json:"entity_id"`
	Text        string    `json:"text"`
	WordCount   int       `json:"word_count"`
	BubbleCount int       `json:"bubble_count"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves finished replies.
type Store interface {
	SaveReply(ctx context.Context, reply Reply) error
	// SessionReplies returns the newest limit replies of a session in
	// chronological order. limit <= 0 means all.
	SessionReplies(ctx context.Context, sessionID string, limit int) ([]Reply, error)
	Ping(ctx context.Context) error
	Close() error
}

// prepare fills defaults and masks PII before a reply is stored.
func prepare(r Reply) Reply {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if text, changed := RedactPII(r.Text); changed {
		r.Text = text
		r.PIIRedacted = true
	}
	return r
}
