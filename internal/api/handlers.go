package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/session"
	"github.com/go-chi/chi/v5"
)

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID               string           `json:"id"`
	Name             string           `json:"name,omitempty"`
	Status           models.Status    `json:"status"`
	OrderStep        models.OrderStep `json:"orderStep,omitempty"`
	Messages         int              `json:"messages"`
	LastUpdated      time.Time        `json:"lastUpdated"`
	LastStatusChange time.Time        `json:"lastStatusChange"`
}

func summarize(id string, sess *models.Session) SessionSummary {
	return SessionSummary{
		ID:               id,
		Name:             sess.UserInfo.Name,
		Status:           sess.Status,
		OrderStep:        sess.UserInfo.OrderStep,
		Messages:         len(sess.Messages),
		LastUpdated:      sess.LastUpdated,
		LastStatusChange: sess.LastStatusChange,
	}
}

// sessionID reads the {id} path parameter. Customer ids carry '@', which clients
// may percent-encode.
func sessionID(r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "id")
	id, err := url.PathUnescape(raw)
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// healthHandler reports liveness and the number of stored sessions.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    s.store.Now().Sub(s.started).Round(time.Second).String(),
	}
	if all, err := s.store.ListAll(); err != nil {
		slog.Warn("Server.healthHandler: failed to count sessions", "error", err)
		health["status"] = "degraded"
	} else {
		health["sessions"] = len(all)
	}
	writeJSONResponse(w, http.StatusOK, health)
}

// listSessionsHandler lists every stored session, sorted by id.
func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listSessionsHandler invoked", "method", r.Method, "path", r.URL.Path)
	all, err := s.store.ListAll()
	if err != nil {
		slog.Error("Server.listSessionsHandler: failed to list sessions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sessions"))
		return
	}
	out := make([]SessionSummary, 0, len(all))
	if status := models.Status(r.URL.Query().Get("status")); status != "" {
		if !status.IsValid() {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid status filter"))
			return
		}
		for id, sess := range all {
			if sess.Status == status {
				out = append(out, summarize(id, sess))
			}
		}
	} else {
		for id, sess := range all {
			out = append(out, summarize(id, sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

// getSessionHandler returns one session with its full history.
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}
	slog.Debug("Server.getSessionHandler invoked", "id", id)
	sess, err := s.store.Get(id)
	if errors.Is(err, models.ErrSessionNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	if err != nil {
		slog.Error("Server.getSessionHandler: failed to read session", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// sessionContextHandler renders the token-budgeted conversation context of a
// session. The optional max_tokens query parameter overrides the default budget.
func (s *Server) sessionContextHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}
	budget := s.budget
	if raw := r.URL.Query().Get("max_tokens"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("max_tokens must be a non-negative integer"))
			return
		}
		budget = n
	}
	if _, err := s.store.Get(id); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("Server.sessionContextHandler: failed to read session", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"id":        id,
		"maxTokens": budget,
		"context":   s.store.FormatForContext(id, budget),
	}))
}

// deleteSessionHandler removes a session. Deleting an unknown id succeeds.
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}
	unlock := s.store.Lock(id)
	existed, err := s.store.Delete(id)
	unlock()
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete session"))
		return
	}
	slog.Info("Server.deleteSessionHandler: session deleted", "id", id, "existed", existed)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"existed": existed}))
}

// releaseSessionHandler hands a human-mode session back to the bot.
func (s *Server) releaseSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}
	if _, err := s.store.Get(id); errors.Is(err, models.ErrSessionNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	unlock := s.store.Lock(id)
	changed, err := s.store.ReturnToAutomated(id, session.ReleaseReason)
	unlock()
	if err != nil {
		slog.Error("Server.releaseSessionHandler: failed to release session", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to release session"))
		return
	}
	if !changed {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session already automated", map[string]bool{"released": false}))
		return
	}
	slog.Info("Server.releaseSessionHandler: session released", "id", id)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"released": true}))
}

// sweepHandler runs one inactivity sweep and returns the reverted ids.
func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	reverted := s.sweeper.Sweep(r.Context())
	if reverted == nil {
		reverted = []string{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"reverted":  reverted,
		"threshold": s.sweeper.Threshold().String(),
	}))
}
