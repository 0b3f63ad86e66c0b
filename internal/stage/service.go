// Package stage runs one bubble engine per conversation session and bridges
// it to connections, metrics and the transcript store.
package stage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
	"github.com/Robertoarce/wakatto-sub001/internal/observability"
	"github.com/Robertoarce/wakatto-sub001/internal/session"
	"github.com/Robertoarce/wakatto-sub001/internal/transcript"
)

var (
	ErrNotFound = errors.New("stage not found")
	ErrClosed   = errors.New("stage closed")
)

const transcriptSaveTimeout = 3 * time.Second

// Config holds the bubble settings shared by every stage.
type Config struct {
	CharsPerLine    int
	LinesPerBubble  int
	MinCharsPerLine int
	WPM             int
	Pause           bubbles.PauseBounds
	// Clock drives reading pauses; nil means wall time.
	Clock bubbles.Clock
}

type Service struct {
	cfg      Config
	sessions *session.Manager
	store    transcript.Store
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
	saves    sync.WaitGroup

	mu     sync.Mutex
	stages map[string]*Stage
}

func New(cfg Config, sessions *session.Manager, store transcript.Store, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		metrics:  metrics,
		logger:   logger.With().Str("component", "stage").Logger(),
		now:      time.Now,
		stages:   make(map[string]*Stage),
	}
}

// Open returns the session's stage, creating it on first use.
func (s *Service) Open(sess *session.Session) (*Stage, error) {
	if sess == nil || sess.Status != session.StatusActive {
		return nil, session.ErrEnded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stages[sess.ID]; ok {
		return st, nil
	}
	st := s.newStage(sess)
	s.stages[sess.ID] = st
	s.logger.Debug().Str("session_id", sess.ID).Msg("stage opened")
	return st, nil
}

func (s *Service) Get(sessionID string) (*Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// Close clears every entity of the session's stage and drops it.
func (s *Service) Close(sessionID string) {
	s.mu.Lock()
	st, ok := s.stages[sessionID]
	delete(s.stages, sessionID)
	s.mu.Unlock()
	if ok {
		st.close()
		s.logger.Debug().Str("session_id", sessionID).Msg("stage closed")
	}
}

// CloseAll closes every stage and waits for pending transcript saves.
func (s *Service) CloseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.stages))
	for id := range s.stages {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		s.Close(id)
	}
	s.saves.Wait()
}

func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stages)
}

// Resolver returns the dimension resolver for a session, honouring its
// capacity overrides.
func (s *Service) Resolver(sess *session.Session) bubbles.SharedWidthResolver {
	r := bubbles.SharedWidthResolver{
		BaseCharsPerLine: s.cfg.CharsPerLine,
		LinesPerBubble:   s.cfg.LinesPerBubble,
		MinCharsPerLine:  s.cfg.MinCharsPerLine,
	}
	if sess.CharsPerLine > 0 {
		r.BaseCharsPerLine = sess.CharsPerLine
	}
	if sess.LinesPerBubble > 0 {
		r.LinesPerBubble = sess.LinesPerBubble
	}
	if r.BaseCharsPerLine <= 0 {
		r.BaseCharsPerLine = bubbles.DefaultCapacity.MaxCharsPerLine
	}
	return r
}

// saveBestEffort persists a reply in the background; failures are counted
// and logged, never surfaced to the connection.
func (s *Service) saveBestEffort(reply transcript.Reply) {
	if s.store == nil {
		return
	}
	s.saves.Add(1)
	go func() {
		defer s.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
		defer cancel()
		if err := s.store.SaveReply(ctx, reply); err != nil {
			s.sessionEvent("transcript_save_failed")
			s.logger.Warn().Err(err).
				Str("session_id", reply.SessionID).
				Str("entity_id", reply.EntityID).
				Msg("transcript save failed")
			return
		}
		s.sessionEvent("transcript_saved")
	}()
}

func (s *Service) sessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (s *Service) recorder() bubbles.Recorder {
	if s.metrics == nil {
		return nil
	}
	return s.metrics
}
