package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/bestie/common/redact"
	"github.com/bdobrica/bestie/common/version"
	"github.com/bdobrica/bestie/internal/bestie/auth"
	"github.com/bdobrica/bestie/internal/bestie/emotion"
	"github.com/bdobrica/bestie/internal/bestie/observability"
	"github.com/bdobrica/bestie/internal/bestie/reply"
	"github.com/bdobrica/bestie/internal/bestie/session"
	"github.com/bdobrica/bestie/internal/bestie/store"
)

// GuestSessionHeader carries the guest session id.
const GuestSessionHeader = "X-Guest-Session"

// RateLimitRemainingHeader reports the caller's remaining quota.
const RateLimitRemainingHeader = "X-RateLimit-Remaining"

// MaxHistoryLimit caps ?limit= on the history routes.
const MaxHistoryLimit = store.DefaultHistoryLimit * 4

// replyFailedMessage is the only detail exposed when a reply cannot be
// produced.
const replyFailedMessage = "could not generate a reply"

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Commit     string    `json:"commit"`
	BuildTime  string    `json:"build_time"`
	StartedAt  time.Time `json:"started_at"`
	UptimeSecs float64   `json:"uptime_seconds"`
	Sessions   int       `json:"sessions"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": Banner})
}

func (s *Server) handleAnonymousChat(w http.ResponseWriter, r *http.Request) {
	s.chat(w, r, session.Anonymous(), ScopeIP+":"+clientIP(r), "")
}

func (s *Server) handleGuestChat(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(GuestSessionHeader)
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, GuestSessionHeader+" must be a UUID")
		return
	}
	w.Header().Set(GuestSessionHeader, id)
	s.chat(w, r, session.Guest(id), ScopeGuest+":"+id, id)
}

func (s *Server) handleUserChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.chat(w, r, identity, ScopeUser+":"+identity.ID(), "")
}

func (s *Server) handleEmotions(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	records, err := s.history.Emotions(r.Context(), identity.ID(), historyLimit(r))
	if err != nil {
		observability.WithTrace(r.Context()).Error("emotion history failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	out := make([]EmotionEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, EmotionEntry{Emotion: rec.Label, RecordedAt: rec.RecordedAt.Format(time.RFC3339)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	records, err := s.history.Messages(r.Context(), identity.ID(), historyLimit(r))
	if err != nil {
		observability.WithTrace(r.Context()).Error("message history failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	out := make([]MessageEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, MessageEntry{Message: rec.Text, RecordedAt: rec.RecordedAt.Format(time.RFC3339)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	token, _ := auth.BearerToken(r)
	if err := s.revoker.Revoke(r.Context(), token); err != nil {
		observability.WithTrace(r.Context()).Error("token revoke failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not revoke token")
		return
	}
	observability.WithTrace(r.Context()).Info("bearer token revoked", "identity", identity.String(), "token", redact.Token(token))
	w.WriteHeader(http.StatusNoContent)
}

// historyLimit parses ?limit=, clamped to MaxHistoryLimit. Missing or
// invalid values return 0 so the store default applies.
func historyLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 0
	}
	return min(limit, MaxHistoryLimit)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessions := 0
	if s.sessions != nil {
		sessions = s.sessions.Sessions()
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
		Sessions:   sessions,
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.schemas.Documents())
}

// authenticate resolves the bearer credential of r, writing a 401 on
// failure.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (session.Identity, bool) {
	token, ok := auth.BearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return session.Identity{}, false
	}
	identity, err := s.auth.Resolve(r.Context(), token)
	if err != nil {
		log := observability.WithTrace(r.Context())
		if errors.Is(err, auth.ErrRejected) {
			log.Info("bearer token rejected", "token", redact.Token(token))
		} else {
			log.Error("auth lookup failed", "err", err)
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return session.Identity{}, false
	}
	return identity, true
}

// chat runs one request through the pipeline for identity.
func (s *Server) chat(w http.ResponseWriter, r *http.Request, identity session.Identity, limitKey, sessionID string) {
	log := observability.WithTrace(r.Context())

	allowed := s.limiter.Allow(limitKey)
	w.Header().Set(RateLimitRemainingHeader, strconv.Itoa(s.limiter.Remaining(limitKey)))
	if !allowed {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	req, err := s.schemas.DecodeChatRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.composer.Compose(r.Context(), reply.Request{Identity: identity, Message: req.Message})
	switch {
	case err == nil:
	case errors.Is(err, reply.ErrEmptyMessage), errors.Is(err, session.ErrEmptyID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, emotion.ErrClassification), errors.Is(err, reply.ErrCompletion):
		log.Warn("reply failed", "identity", identity.String(), "err", err)
		writeError(w, http.StatusBadGateway, replyFailedMessage)
		return
	default:
		log.Error("reply failed", "identity", identity.String(), "err", err)
		writeError(w, http.StatusInternalServerError, replyFailedMessage)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Reply: res.Reply, Emotion: res.Emotion, SessionID: sessionID})
}

// clientIP returns the remote host of r without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode JSON response", "err", err)
	}
}
