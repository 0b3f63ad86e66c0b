package bubbles

import "fmt"

// Command is an inbound message for the engine. Streaming layers send
// TextUpdate; renderers send AnimationComplete.
type Command interface {
	command()
}

type TextUpdate struct {
	EntityID    string
	VisibleText string
	Streaming   bool
	FullText    string
}

type AnimationComplete struct {
	EntityID  string
	BubbleID  string
	Animation Animation
}

type PromoteNext struct {
	EntityID string
}

type ClearEntity struct {
	EntityID string
}

type ClearAll struct{}

func (TextUpdate) command()        {}
func (AnimationComplete) command() {}
func (PromoteNext) command()       {}
func (ClearEntity) command()       {}
func (ClearAll) command()          {}

// Dispatch applies cmd to the engine.
func (e *Engine) Dispatch(cmd Command) error {
	switch c := cmd.(type) {
	case TextUpdate:
		e.UpdateText(c.EntityID, c.VisibleText, c.Streaming, c.FullText)
	case AnimationComplete:
		e.OnAnimationComplete(c.EntityID, c.BubbleID, c.Animation)
	case PromoteNext:
		e.PromoteNext(c.EntityID)
	case ClearEntity:
		e.ClearEntity(c.EntityID)
	case ClearAll:
		e.ClearAll()
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	return nil
}
