package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"campusbot/internal/admin"
	"campusbot/internal/dna"
	"campusbot/internal/events"
	"campusbot/internal/optimizer"
)

const defaultAuditLimit = 50

type ctxKey int

const tokenKey ctxKey = iota

type unlockRequest struct {
	Secret string `json:"secret"`
}

type voiceRequest struct {
	VoiceID *string `json:"voiceId"`
}

type optimizeRequest struct {
	Feedback string `json:"feedback"`
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func tokenFrom(ctx context.Context) string {
	v, _ := ctx.Value(tokenKey).(string)
	return v
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		err := s.gate.Require(r.Context(), token)
		if errors.Is(err, admin.ErrLocked) {
			Error(w, http.StatusUnauthorized, "admin session is locked")
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("admin check failed")
			Error(w, http.StatusInternalServerError, "admin check failed")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey, token)))
	})
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := s.gate.IssueToken(r.Context(), req.Secret)
	if errors.Is(err, admin.ErrWrongSecret) {
		Error(w, http.StatusUnauthorized, "incorrect password")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("unlock failed")
		Error(w, http.StatusInternalServerError, "unlock failed")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		Error(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := s.gate.Lock(r.Context(), token); err != nil {
		s.logger.Error().Err(err).Msg("lock failed")
		Error(w, http.StatusInternalServerError, "lock failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getDNA(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.dna.Latest())
}

func (s *Server) putVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	voiceID := ""
	if req.VoiceID != nil {
		voiceID = strings.TrimSpace(*req.VoiceID)
	}
	if voiceID != "" {
		if _, ok := s.voices.Lookup(voiceID); !ok {
			Error(w, http.StatusBadRequest, "unknown voice")
			return
		}
	}
	if err := s.dnaWriter.Update(r.Context(), dna.VoicePatch(voiceID)); err != nil {
		s.logger.Error().Err(err).Msg("failed to save voice")
		Error(w, http.StatusInternalServerError, "failed to save voice preference")
		return
	}
	s.gate.Record(r.Context(), admin.Actor(tokenFrom(r.Context())), "voice_set", map[string]any{"voice": voiceID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) optimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()

	patch, err := s.optimizer.Optimize(ctx, req.Feedback, s.dna.Latest())
	msg := optimizer.Message(err)
	switch {
	case err == nil:
		s.gate.Record(r.Context(), admin.Actor(tokenFrom(r.Context())), "dna_optimized", map[string]any{
			"tone":       *patch.Tone,
			"max_length": *patch.MaxLength,
		})
		JSON(w, http.StatusOK, map[string]any{
			"message":   msg,
			"persona":   *patch.Persona,
			"tone":      *patch.Tone,
			"maxLength": *patch.MaxLength,
		})
	case errors.Is(err, optimizer.ErrEmptyFeedback):
		Error(w, http.StatusBadRequest, msg)
	case errors.Is(err, optimizer.ErrBusy):
		Error(w, http.StatusConflict, msg)
	case errors.Is(err, optimizer.ErrInvalidOutput):
		Error(w, http.StatusBadGateway, msg)
	case errors.Is(err, optimizer.ErrModelUnavailable):
		Error(w, http.StatusBadGateway, msg)
	default:
		Error(w, http.StatusInternalServerError, msg)
	}
}

func eventDate(w http.ResponseWriter, r *http.Request, loc *time.Location) (string, bool) {
	day := strings.TrimSpace(chi.URLParam(r, "date"))
	if strings.EqualFold(day, "today") {
		return events.Today(time.Now(), loc), true
	}
	if err := events.ValidDate(day); err != nil {
		Error(w, http.StatusBadRequest, "date must look like 2006-01-02")
		return "", false
	}
	return day, true
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	day, ok := eventDate(w, r, s.location)
	if !ok {
		return
	}
	list, err := s.events.List(r.Context(), day)
	if err != nil {
		s.logger.Error().Err(err).Str("date", day).Msg("failed to list events")
		Error(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"date": day, "events": list})
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	day, ok := eventDate(w, r, s.location)
	if !ok {
		return
	}
	var ev events.Event
	if !decodeBody(w, r, &ev) {
		return
	}
	list, err := s.events.Add(r.Context(), day, ev)
	if err != nil {
		s.writeEventErr(w, day, err)
		return
	}
	s.gate.Record(r.Context(), admin.Actor(tokenFrom(r.Context())), "event_add", map[string]any{"date": day, "name": ev.Name})
	JSON(w, http.StatusCreated, map[string]any{"date": day, "events": list})
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	day, ok := eventDate(w, r, s.location)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		Error(w, http.StatusBadRequest, "index must be a number")
		return
	}
	list, err := s.events.Delete(r.Context(), day, idx)
	if err != nil {
		s.writeEventErr(w, day, err)
		return
	}
	s.gate.Record(r.Context(), admin.Actor(tokenFrom(r.Context())), "event_del", map[string]any{"date": day, "index": idx})
	JSON(w, http.StatusOK, map[string]any{"date": day, "events": list})
}

func (s *Server) writeEventErr(w http.ResponseWriter, day string, err error) {
	var verr *events.ValidationError
	if errors.As(err, &verr) {
		Error(w, http.StatusBadRequest, verr.Error())
		return
	}
	s.logger.Error().Err(err).Str("date", day).Msg("failed to write events")
	Error(w, http.StatusInternalServerError, "failed to save events")
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		JSON(w, http.StatusOK, map[string]any{"entries": []any{}})
		return
	}
	limit := uint64(defaultAuditLimit)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries, err := s.audit.RecentActions(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read audit log")
		Error(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	out := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]string{"actor": e.Actor, "action": e.Action, "meta": e.MetaJSON})
	}
	JSON(w, http.StatusOK, map[string]any{"entries": out})
}
