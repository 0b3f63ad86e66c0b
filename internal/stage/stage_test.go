package stage

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
	"github.com/Robertoarce/wakatto-sub001/internal/observability"
	"github.com/Robertoarce/wakatto-sub001/internal/protocol"
	"github.com/Robertoarce/wakatto-sub001/internal/session"
	"github.com/Robertoarce/wakatto-sub001/internal/transcript"
)

type fixture struct {
	svc      *Service
	sessions *session.Manager
	store    *transcript.InMemoryStore
	clock    *bubbles.ManualClock
	sess     *session.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := bubbles.NewManualClock()
	sessions := session.NewManager(time.Minute)
	store := transcript.NewInMemoryStore()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_stage")
	svc := New(Config{
		CharsPerLine:    20,
		LinesPerBubble:  1,
		MinCharsPerLine: 20,
		Clock:           clock,
	}, sessions, store, metrics, zerolog.Nop())
	t.Cleanup(svc.CloseAll)
	return &fixture{
		svc:      svc,
		sessions: sessions,
		store:    store,
		clock:    clock,
		sess:     sessions.Create(session.CreateRequest{UserID: "u1", PersonaID: "warm"}),
	}
}

func (f *fixture) replies(t *testing.T) []transcript.Reply {
	t.Helper()
	f.svc.saves.Wait()
	got, err := f.store.SessionReplies(context.Background(), f.sess.ID, 0)
	if err != nil {
		return nil
	}
	return got
}

func recv(t *testing.T, ch <-chan protocol.BubbleSnapshot) protocol.BubbleSnapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "snapshot channel closed")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return protocol.BubbleSnapshot{}
	}
}

func TestOpenReturnsSameStage(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Open(f.sess)
	require.NoError(t, err)
	b, err := f.svc.Open(f.sess)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, f.svc.Count())

	got, err := f.svc.Get(f.sess.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)
	_, err = f.svc.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Open(&session.Session{ID: "x", Status: session.StatusEnded})
	assert.ErrorIs(t, err, session.ErrEnded)
}

func TestApplyPublishesSnapshotsAndPromotesOnTimer(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.Open(f.sess)
	require.NoError(t, err)
	snaps, cancel := st.Subscribe()
	defer cancel()

	require.NoError(t, st.Apply(bubbles.TextUpdate{EntityID: "nova", VisibleText: "Hello there friend. How are you today?"}))

	first := recv(t, snaps)
	assert.Equal(t, f.sess.ID, first.SessionID)
	assert.Equal(t, "nova", first.EntityID)
	require.Len(t, first.Bubbles, 1)
	assert.Equal(t, "Hello there friend.", first.Bubbles[0].Text)
	assert.Equal(t, 1, first.PendingCount)

	f.clock.Advance(bubbles.DefaultMaxPause)
	second := recv(t, snaps)
	require.Len(t, second.Bubbles, 2)
	assert.Equal(t, "How are you today?", second.Bubbles[1].Text)
	assert.Greater(t, second.Version, first.Version)
}

func TestFinalUpdateSavesTranscriptOnce(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.Open(f.sess)
	require.NoError(t, err)

	require.NoError(t, st.Apply(bubbles.TextUpdate{EntityID: "nova", VisibleText: "Hi", Streaming: true}))
	assert.Empty(t, f.replies(t))

	require.NoError(t, st.Apply(bubbles.TextUpdate{EntityID: "nova", VisibleText: "Hi there!", FullText: "Hi there!"}))
	require.NoError(t, st.Apply(bubbles.TextUpdate{EntityID: "nova", VisibleText: "Hi there!", FullText: "Hi there!"}))
	require.NoError(t, st.Apply(bubbles.ClearEntity{EntityID: "nova"}))

	got := f.replies(t)
	require.Len(t, got, 1)
	assert.Equal(t, "Hi there!", got[0].Text)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, 2, got[0].WordCount)
	assert.Equal(t, 1, got[0].BubbleCount)

	sess, _ := f.sessions.Get(f.sess.ID)
	assert.Equal(t, 3, sess.Updates)
	assert.Equal(t, 2, sess.Replies)
}

func TestClearEntitySavesUnfinishedReply(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.Open(f.sess)
	require.NoError(t, err)

	require.NoError(t, st.Apply(bubbles.TextUpdate{EntityID: "nova", VisibleText: "Well, I was", Streaming: true}))
	require.NoError(t, st.Apply(bubbles.ClearEntity{EntityID: "nova"}))

	got := f.replies(t)
	require.Len(t, got, 1)
	assert.Equal(t, "Well, I was", got[0].Text)
	assert.Empty(t, st.Entities())
}

func TestApplyRejectsEndedSession(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.Open(f.sess)
	require.NoError(t, err)
	_, err = f.sessions.End(f.sess.ID)
	require.NoError(t, err)

	err = st.Apply(bubbles.TextUpdate{EntityID: "nova", VisibleText: "late"})
	assert.ErrorIs(t, err, session.ErrEnded)
	assert.Equal(t, "session_ended", errorCode(err))
	assert.Empty(t, st.Entities())
}

func TestCloseClearsAndClosesSubscribers(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.Open(f.sess)
	require.NoError(t, err)
	require.NoError(t, st.Apply(bubbles.TextUpdate{EntityID: "nova", VisibleText: "one two three four five six seven", Streaming: true}))
	require.Equal(t, 1, f.clock.Pending())

	snaps, _ := st.Subscribe()
	f.svc.Close(f.sess.ID)

	cleared := recv(t, snaps)
	assert.True(t, cleared.Cleared)
	_, ok := <-snaps
	assert.False(t, ok, "subscriber channel should be closed")
	assert.Equal(t, 0, f.clock.Pending())
	assert.Equal(t, 0, f.svc.Count())
	assert.ErrorIs(t, st.Apply(bubbles.ClearAll{}), ErrClosed)
	require.Len(t, f.replies(t), 1)

	late, cancel := st.Subscribe()
	defer cancel()
	_, ok = <-late
	assert.False(t, ok)
}

func TestResolverHonoursSessionOverrides(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Resolver(&session.Session{CharsPerLine: 60, LinesPerBubble: 4})
	assert.Equal(t, bubbles.Capacity{MaxCharsPerLine: 30, MaxLinesPerBubble: 4}, r.Resolve(bubbles.Layout{EntityCount: 1, BubbleCount: 2}))

	r = f.svc.Resolver(&session.Session{})
	assert.Equal(t, bubbles.Capacity{MaxCharsPerLine: 20, MaxLinesPerBubble: 1}, r.Resolve(bubbles.Layout{EntityCount: 2, BubbleCount: 2}))
}

func TestRunConnection(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan any, 8)
	outbound := make(chan any, 8)
	done := make(chan error, 1)
	go func() { done <- f.svc.RunConnection(ctx, f.sess, inbound, outbound) }()

	next := func() any {
		t.Helper()
		select {
		case msg := <-outbound:
			return msg
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for outbound message")
			return nil
		}
	}

	ready, ok := next().(protocol.SystemEvent)
	require.True(t, ok)
	assert.Equal(t, "stage_ready", ready.Code)

	inbound <- protocol.TextUpdate{Type: protocol.TypeTextUpdate, SessionID: f.sess.ID, EntityID: "nova", Text: "Hi!"}
	snap, ok := next().(protocol.BubbleSnapshot)
	require.True(t, ok)
	require.Len(t, snap.Bubbles, 1)
	assert.Equal(t, bubbles.AnimationSlidingIn, snap.Bubbles[0].Animation)

	inbound <- protocol.AnimationComplete{Type: protocol.TypeAnimationComplete, SessionID: f.sess.ID, EntityID: "nova", BubbleID: snap.Bubbles[0].ID, Animation: bubbles.AnimationSlidingIn}
	settled, ok := next().(protocol.BubbleSnapshot)
	require.True(t, ok)
	assert.Equal(t, bubbles.AnimationIdle, settled.Bubbles[0].Animation)

	inbound <- protocol.ClearAll{Type: protocol.TypeClearAll, SessionID: "someone-else"}
	errEvent, ok := next().(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "invalid_command", errEvent.Code)

	close(inbound)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunConnection did not return after inbound closed")
	}
}

func TestRunConnectionResyncsExistingBubbles(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.Open(f.sess)
	require.NoError(t, err)
	require.NoError(t, st.Apply(bubbles.TextUpdate{EntityID: "nova", VisibleText: "Already here."}))

	ctx, cancel := context.WithCancel(context.Background())
	inbound := make(chan any)
	outbound := make(chan any, 8)
	done := make(chan error, 1)
	go func() { done <- f.svc.RunConnection(ctx, f.sess, inbound, outbound) }()

	<-outbound
	resync, ok := (<-outbound).(protocol.BubbleSnapshot)
	require.True(t, ok)
	assert.Equal(t, "resync", resync.Reason)
	assert.Equal(t, "Already here.", resync.Bubbles[0].Text)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
