package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"campusbot/internal/conversation"
	"campusbot/internal/router"
	"campusbot/internal/speech"
)

type turnRequest struct {
	Text string `json:"text"`
}

type turnResponse struct {
	Message   conversation.Message `json:"message"`
	Utterance speech.Utterance     `json:"utterance"`
	Route     router.Kind          `json:"route"`
}

func sessionKey(r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" || len(id) > 128 {
		return "", false
	}
	return sessionPrefix + id, true
}

func (s *Server) postTurn(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req turnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if !s.allowRate(w, r, key) {
		return
	}

	ctrl, err := s.sessions.Get(r.Context(), key)
	if err != nil {
		s.logger.Error().Err(err).Str("session", key).Msg("failed to open session")
		Error(w, http.StatusInternalServerError, "failed to open session")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()
	reply, err := ctrl.ProcessTurn(ctx, req.Text)
	switch {
	case errors.Is(err, conversation.ErrTurnPending):
		Error(w, http.StatusConflict, "a previous question is still being answered")
		return
	case errors.Is(err, conversation.ErrBlankUtterance):
		Error(w, http.StatusBadRequest, "text is required")
		return
	case err != nil:
		s.logger.Error().Err(err).Str("session", key).Msg("turn failed")
		Error(w, http.StatusInternalServerError, "turn failed")
		return
	}

	JSON(w, http.StatusOK, turnResponse{
		Message:   reply.Message,
		Utterance: reply.Utterance,
		Route:     reply.Route,
	})
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	ctrl, err := s.sessions.Get(r.Context(), key)
	if err != nil {
		s.logger.Error().Err(err).Str("session", key).Msg("failed to open session")
		Error(w, http.StatusInternalServerError, "failed to open session")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"messages": ctrl.Transcript(),
		"pending":  ctrl.Pending(),
	})
}

func (s *Server) listVoices(w http.ResponseWriter, r *http.Request) {
	selected := ""
	if s.dna != nil {
		selected = s.dna.Latest().Voice()
	}
	JSON(w, http.StatusOK, map[string]any{
		"voices":   s.voices.Voices(),
		"default":  s.voices.Default(),
		"selected": selected,
	})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, subject string) bool {
	if s.rateLimiter == nil {
		return true
	}
	ok, _, resetAt, err := s.rateLimiter.Allow(r.Context(), subject, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		return true
	}
	if ok {
		return true
	}
	retry := int(time.Until(resetAt).Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	Error(w, http.StatusTooManyRequests, "too many questions, try again later")
	return false
}
