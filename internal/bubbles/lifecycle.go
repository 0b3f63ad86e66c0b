package bubbles

import "fmt"

// Animation is the transient render intent attached to a bubble.
type Animation uint8

const (
	AnimationIdle Animation = iota
	AnimationSlidingIn
	AnimationSlidingLeft
	AnimationFadingOut
)

var animationNames = [...]string{
	AnimationIdle:        "idle",
	AnimationSlidingIn:   "sliding_in",
	AnimationSlidingLeft: "sliding_left",
	AnimationFadingOut:   "fading_out",
}

func (a Animation) String() string {
	if int(a) < len(animationNames) {
		return animationNames[a]
	}
	return fmt.Sprintf("animation(%d)", uint8(a))
}

func (a Animation) MarshalText() ([]byte, error) {
	if int(a) >= len(animationNames) {
		return nil, fmt.Errorf("unknown animation %d", uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *Animation) UnmarshalText(b []byte) error {
	v, err := ParseAnimation(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func ParseAnimation(s string) (Animation, error) {
	for i, name := range animationNames {
		if name == s {
			return Animation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown animation %q", s)
}

// Status is the logical state of a displayed bubble.
type Status uint8

const (
	StatusActive Status = iota
	StatusReading
	StatusTransitioning
	StatusFading
)

var statusNames = [...]string{
	StatusActive:        "active",
	StatusReading:       "reading",
	StatusTransitioning: "transitioning",
	StatusFading:        "fading",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// Slot is the positional role of a bubble in the two-bubble window.
type Slot uint8

const (
	SlotLeft Slot = iota
	SlotRight
)

func (s Slot) String() string {
	switch s {
	case SlotLeft:
		return "left"
	case SlotRight:
		return "right"
	default:
		return fmt.Sprintf("slot(%d)", uint8(s))
	}
}

func (s Slot) MarshalText() ([]byte, error) {
	if s > SlotRight {
		return nil, fmt.Errorf("unknown slot %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Slot) UnmarshalText(b []byte) error {
	switch string(b) {
	case "left":
		*s = SlotLeft
	case "right":
		*s = SlotRight
	default:
		return fmt.Errorf("unknown slot %q", string(b))
	}
	return nil
}

// outcome is what the queue does once the renderer reports an animation done.
type outcome uint8

const (
	outcomeIgnore outcome = iota
	outcomeSettle
	outcomeRemove
	outcomeAdvance
)

func outcomeOf(a Animation) outcome {
	switch a {
	case AnimationSlidingIn:
		return outcomeSettle
	case AnimationFadingOut:
		return outcomeRemove
	case AnimationSlidingLeft:
		return outcomeAdvance
	case AnimationIdle:
		return outcomeIgnore
	default:
		return outcomeIgnore
	}
}
