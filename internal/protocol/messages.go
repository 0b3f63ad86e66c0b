package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeTextUpdate        MessageType = "text_update"
	TypeAnimationComplete MessageType = "animation_complete"
	TypeClearEntity       MessageType = "clear_entity"
	TypeClearAll          MessageType = "clear_all"
	TypeBubbleSnapshot    MessageType = "bubble_snapshot"
	TypeSystemEvent       MessageType = "system_event"
	TypeErrorEvent        MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// TextUpdate carries the streamed reply of one entity. FullText, when set,
// is the whole reply the visible text is revealing.
type TextUpdate struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	EntityID    string      `json:"entity_id"`
	Text        string      `json:"text"`
	FullText    string      `json:"full_text,omitempty"`
	IsStreaming bool        `json:"is_streaming"`
}

// AnimationComplete is sent by the renderer once per finished animation.
type AnimationComplete struct {
	Type      MessageType       `json:"type"`
	SessionID string            `json:"session_id"`
	EntityID  string            `json:"entity_id"`
	BubbleID  string            `json:"bubble_id"`
	Animation bubbles.Animation `json:"animation"`
}

type ClearEntity struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	EntityID  string      `json:"entity_id"`
}

type ClearAll struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// BubbleSnapshot is pushed after every change to an entity's queue.
type BubbleSnapshot struct {
	Type          MessageType          `json:"type"`
	SessionID     string               `json:"session_id"`
	EntityID      string               `json:"entity_id"`
	Version       uint64               `json:"version"`
	Reason        string               `json:"reason"`
	Cleared       bool                 `json:"cleared,omitempty"`
	Bubbles       []bubbles.BubbleView `json:"bubbles"`
	Retiring      []bubbles.BubbleView `json:"retiring,omitempty"`
	PendingCount  int                  `json:"pending_count"`
	Transitioning bool                 `json:"transitioning"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// NewBubbleSnapshot converts an engine change into its wire form.
func NewBubbleSnapshot(sessionID string, c bubbles.Change) BubbleSnapshot {
	views := c.Bubbles
	if views == nil {
		views = []bubbles.BubbleView{}
	}
	return BubbleSnapshot{
		Type:          TypeBubbleSnapshot,
		SessionID:     sessionID,
		EntityID:      c.EntityID,
		Version:       c.Version,
		Reason:        c.Reason,
		Cleared:       c.Cleared,
		Bubbles:       views,
		Retiring:      c.Retiring,
		PendingCount:  len(c.Pending),
		Transitioning: c.Transitioning,
	}
}

// Command converts a parsed client message into an engine command.
func Command(msg any) (bubbles.Command, error) {
	switch m := msg.(type) {
	case TextUpdate:
		return bubbles.TextUpdate{EntityID: m.EntityID, VisibleText: m.Text, Streaming: m.IsStreaming, FullText: m.FullText}, nil
	case AnimationComplete:
		return bubbles.AnimationComplete{EntityID: m.EntityID, BubbleID: m.BubbleID, Animation: m.Animation}, nil
	case ClearEntity:
		return bubbles.ClearEntity{EntityID: m.EntityID}, nil
	case ClearAll:
		return bubbles.ClearAll{}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, msg)
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTextUpdate:
		var msg TextUpdate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.EntityID) == "" {
			return nil, errors.New("invalid text_update")
		}
		return msg, nil
	case TypeAnimationComplete:
		var msg AnimationComplete
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid animation_complete: %w", err)
		}
		if msg.SessionID == "" || msg.EntityID == "" || msg.BubbleID == "" {
			return nil, errors.New("invalid animation_complete")
		}
		return msg, nil
	case TypeClearEntity:
		var msg ClearEntity
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.EntityID == "" {
			return nil, errors.New("invalid clear_entity")
		}
		return msg, nil
	case TypeClearAll:
		var msg ClearAll
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid clear_all")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
