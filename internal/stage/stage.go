package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
	"github.com/Robertoarce/wakatto-sub001/internal/protocol"
	"github.com/Robertoarce/wakatto-sub001/internal/session"
	"github.com/Robertoarce/wakatto-sub001/internal/transcript"
)

// Stage is the bubble runtime of one session.
type Stage struct {
	svc       *Service
	sessionID string
	userID    string
	engine    *bubbles.Engine
	logger    zerolog.Logger

	mu        sync.Mutex
	closed    bool
	subs      map[int]chan protocol.BubbleSnapshot
	nextSubID int
	replies   map[string]*reply
	shown     map[string]shownBubble
}

// reply tracks the authoritative text of an entity's current reply.
type reply struct {
	text  string
	saved string
	seen  int
}

type shownBubble struct {
	entityID string
	at       time.Time
}

func (s *Service) newStage(sess *session.Session) *Stage {
	st := &Stage{
		svc:       s,
		sessionID: sess.ID,
		userID:    sess.UserID,
		logger:    s.logger.With().Str("session_id", sess.ID).Logger(),
		subs:      make(map[int]chan protocol.BubbleSnapshot),
		replies:   make(map[string]*reply),
		shown:     make(map[string]shownBubble),
	}
	st.engine = bubbles.NewEngine(bubbles.Config{
		Resolver: s.Resolver(sess),
		WPM:      s.cfg.WPM,
		Pause:    s.cfg.Pause,
		Clock:    s.cfg.Clock,
		Logger:   &st.logger,
		Recorder: s.recorder(),
		Observer: st.onChange,
	})
	return st
}

func (st *Stage) SessionID() string { return st.sessionID }

// Apply runs a command against the stage's engine, keeping session activity
// and transcripts in step.
func (st *Stage) Apply(cmd bubbles.Command) error {
	st.mu.Lock()
	closed := st.closed
	st.mu.Unlock()
	if closed {
		return ErrClosed
	}

	switch c := cmd.(type) {
	case bubbles.TextUpdate:
		if err := st.svc.sessions.RecordUpdate(st.sessionID, !c.Streaming); err != nil {
			return err
		}
		if err := st.engine.Dispatch(c); err != nil {
			return err
		}
		st.trackText(c)
		return nil
	case bubbles.ClearEntity:
		if err := st.svc.sessions.Touch(st.sessionID); err != nil {
			return err
		}
		st.flush(c.EntityID)
		return st.engine.Dispatch(c)
	case bubbles.ClearAll:
		if err := st.svc.sessions.Touch(st.sessionID); err != nil {
			return err
		}
		for _, id := range st.engine.Entities() {
			st.flush(id)
		}
		return st.engine.Dispatch(c)
	default:
		if err := st.svc.sessions.Touch(st.sessionID); err != nil {
			return err
		}
		return st.engine.Dispatch(cmd)
	}
}

func (st *Stage) Snapshot(entityID string) (bubbles.Snapshot, bool) {
	return st.engine.Snapshot(entityID)
}

func (st *Stage) Entities() []string {
	return st.engine.Entities()
}

func (st *Stage) Stats() bubbles.Stats {
	return st.engine.Stats()
}

// Subscribe streams bubble snapshots until the returned cancel is called or
// the stage closes, which closes the channel.
func (st *Stage) Subscribe() (<-chan protocol.BubbleSnapshot, func()) {
	ch := make(chan protocol.BubbleSnapshot, 256)
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	st.nextSubID++
	id := st.nextSubID
	st.subs[id] = ch
	st.mu.Unlock()

	return ch, func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if sub, ok := st.subs[id]; ok {
			delete(st.subs, id)
			close(sub)
		}
	}
}

// RunConnection feeds parsed client messages into the stage and forwards its
// snapshots to outbound until ctx ends, inbound closes or the stage closes.
func (s *Service) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	st, err := s.Open(sess)
	if err != nil {
		return err
	}
	snapshots, unsubscribe := st.Subscribe()
	defer unsubscribe()

	send(ctx, outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sess.ID,
		Code:      "stage_ready",
	})
	for _, id := range st.Entities() {
		if snap, ok := st.Snapshot(id); ok {
			send(ctx, outbound, protocol.NewBubbleSnapshot(sess.ID, bubbles.Change{Snapshot: snap, Reason: "resync"}))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			send(ctx, outbound, snap)
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := st.handle(msg); err != nil {
				s.sessionEvent("command_rejected")
				send(ctx, outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sess.ID,
					Code:      errorCode(err),
					Source:    "stage",
					Retryable: false,
					Detail:    err.Error(),
				})
			}
		}
	}
}

func (st *Stage) handle(msg any) error {
	if sid := messageSessionID(msg); sid != "" && sid != st.sessionID {
		return fmt.Errorf("message for session %q on connection for %q", sid, st.sessionID)
	}
	cmd, err := protocol.Command(msg)
	if err != nil {
		return err
	}
	return st.Apply(cmd)
}

func (st *Stage) trackText(c bubbles.TextUpdate) {
	text := c.FullText
	if text == "" {
		text = c.VisibleText
	}
	st.mu.Lock()
	r := st.replies[c.EntityID]
	if r == nil {
		if _, live := st.engine.Snapshot(c.EntityID); !live {
			st.mu.Unlock()
			return
		}
		r = &reply{}
		st.replies[c.EntityID] = r
	}
	if text != "" {
		r.text = text
	}
	st.mu.Unlock()
	if !c.Streaming {
		st.flush(c.EntityID)
	}
}

// flush saves the entity's current reply unless that exact text is stored.
func (st *Stage) flush(entityID string) {
	st.mu.Lock()
	r := st.replies[entityID]
	if r == nil || r.text == "" || r.text == r.saved {
		st.mu.Unlock()
		return
	}
	r.saved = r.text
	text, seen := r.text, r.seen
	st.mu.Unlock()

	pending := 0
	if snap, ok := st.engine.Snapshot(entityID); ok {
		pending = len(snap.Pending)
	}
	st.svc.saveBestEffort(transcript.Reply{
		SessionID:   st.sessionID,
		UserID:      st.userID,
		EntityID:    entityID,
		Text:        text,
		WordCount:   bubbles.CountWords(text),
		BubbleCount: seen + pending,
	})
}

// onChange is the engine observer. It runs outside the engine lock, possibly
// on a timer goroutine.
func (st *Stage) onChange(c bubbles.Change) {
	now := st.svc.now()
	snap := protocol.NewBubbleSnapshot(st.sessionID, c)

	st.mu.Lock()
	defer st.mu.Unlock()

	live := make(map[string]bool, len(c.Bubbles)+len(c.Retiring))
	for _, b := range c.Bubbles {
		live[b.ID] = true
	}
	for _, b := range c.Retiring {
		live[b.ID] = true
	}
	r := st.replies[c.EntityID]
	for id := range live {
		if _, ok := st.shown[id]; ok {
			continue
		}
		st.shown[id] = shownBubble{entityID: c.EntityID, at: now}
		if r == nil {
			r = &reply{}
			st.replies[c.EntityID] = r
		}
		r.seen++
	}
	for id, b := range st.shown {
		if b.entityID != c.EntityID || live[id] {
			continue
		}
		delete(st.shown, id)
		if st.svc.metrics != nil {
			st.svc.metrics.ObserveHold("bubble_on_screen", now.Sub(b.at))
		}
	}
	if c.Cleared {
		delete(st.replies, c.EntityID)
	}

	if st.closed {
		return
	}
	for _, ch := range st.subs {
		select {
		case ch <- snap:
		default:
			st.svc.sessionEvent("snapshot_dropped")
		}
	}
}

func (st *Stage) close() {
	for _, id := range st.engine.Entities() {
		st.flush(id)
	}
	st.engine.ClearAll()

	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	for id, ch := range st.subs {
		delete(st.subs, id)
		close(ch)
	}
}

func send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}

func messageSessionID(msg any) string {
	switch m := msg.(type) {
	case protocol.TextUpdate:
		return m.SessionID
	case protocol.AnimationComplete:
		return m.SessionID
	case protocol.ClearEntity:
		return m.SessionID
	case protocol.ClearAll:
		return m.SessionID
	default:
		return ""
	}
}
