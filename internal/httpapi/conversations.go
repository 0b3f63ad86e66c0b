package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
	"github.com/Robertoarce/wakatto-sub001/internal/session"
	"github.com/Robertoarce/wakatto-sub001/internal/stage"
	"github.com/Robertoarce/wakatto-sub001/internal/transcript"
)

type textUpdateRequest struct {
	Text        string `json:"text"`
	FullText    string `json:"full_text"`
	IsStreaming bool   `json:"is_streaming"`
}

type animationCompleteRequest struct {
	BubbleID  string            `json:"bubble_id"`
	Animation bubbles.Animation `json:"animation"`
}

type bubblesResponse struct {
	SessionID string `json:"session_id"`
	bubbles.Snapshot
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.PersonaID) == "" {
		req.PersonaID = "default"
	}
	if req.CharsPerLine < 0 || req.LinesPerBubble < 0 {
		respondError(w, http.StatusBadRequest, "invalid_capacity", "chars_per_line and lines_per_bubble must not be negative")
		return
	}

	sess := s.sessions.Create(req)
	if _, err := s.stages.Open(sess); err != nil {
		respondError(w, http.StatusInternalServerError, "stage_unavailable", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	s.logger.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("conversation created")

	resolver := s.stages.Resolver(sess)
	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		PersonaID:       sess.PersonaID,
		CharsPerLine:    resolver.BaseCharsPerLine,
		LinesPerBubble:  resolver.LinesPerBubble,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	resp := map[string]any{"session": sess}
	if st, err := s.stages.Get(sess.ID); err == nil {
		resp["entities"] = st.Entities()
		resp["stats"] = st.Stats()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.stages.Close(id)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stageFor(w, r)
	if !ok {
		return
	}
	if err := st.Apply(bubbles.ClearAll{}); err != nil {
		s.respondApplyError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": st.SessionID(), "status": "reset"})
}

func (s *Server) handleTextUpdate(w http.ResponseWriter, r *http.Request) {
	var req textUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	st, ok := s.stageFor(w, r)
	if !ok {
		return
	}
	entityID := chi.URLParam(r, "entity")
	err := st.Apply(bubbles.TextUpdate{
		EntityID:    entityID,
		VisibleText: req.Text,
		Streaming:   req.IsStreaming,
		FullText:    req.FullText,
	})
	if err != nil {
		s.respondApplyError(w, err)
		return
	}
	s.respondBubbles(w, st, entityID)
}

func (s *Server) handleAnimationComplete(w http.ResponseWriter, r *http.Request) {
	var req animationCompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.BubbleID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "bubble_id is required")
		return
	}
	st, ok := s.stageFor(w, r)
	if !ok {
		return
	}
	entityID := chi.URLParam(r, "entity")
	if err := st.Apply(bubbles.AnimationComplete{EntityID: entityID, BubbleID: req.BubbleID, Animation: req.Animation}); err != nil {
		s.respondApplyError(w, err)
		return
	}
	s.respondBubbles(w, st, entityID)
}

func (s *Server) handleClearEntity(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stageFor(w, r)
	if !ok {
		return
	}
	entityID := chi.URLParam(r, "entity")
	if err := st.Apply(bubbles.ClearEntity{EntityID: entityID}); err != nil {
		s.respondApplyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBubbles(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	st, err := s.stages.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	entityID := chi.URLParam(r, "entity")
	if _, ok := st.Snapshot(entityID); !ok {
		respondError(w, http.StatusNotFound, "entity_not_found", "no bubbles for entity "+entityID)
		return
	}
	s.respondBubbles(w, st, entityID)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	replies, err := s.store.SessionReplies(r.Context(), sessionID, 0)
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		replies = []transcript.Reply{}
	case err != nil:
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "replies": replies})
}

// stageFor resolves the active session in the URL to its stage.
func (s *Server) stageFor(w http.ResponseWriter, r *http.Request) (*stage.Stage, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	st, err := s.stages.Open(sess)
	if err != nil {
		s.respondApplyError(w, err)
		return nil, false
	}
	return st, true
}

func (s *Server) respondBubbles(w http.ResponseWriter, st *stage.Stage, entityID string) {
	snap, ok := st.Snapshot(entityID)
	if !ok {
		snap = bubbles.Snapshot{EntityID: entityID, Bubbles: []bubbles.BubbleView{}}
	}
	respondJSON(w, http.StatusOK, bubblesResponse{SessionID: st.SessionID(), Snapshot: snap})
}

func (s *Server) respondApplyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEnded), errors.Is(err, stage.ErrClosed):
		respondError(w, http.StatusConflict, "session_ended", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	default:
		respondError(w, http.StatusBadRequest, "invalid_command", err.Error())
	}
}
