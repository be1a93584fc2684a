package session

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// InactivityReason is recorded as a system message when a session is returned to
// automated support.
const InactivityReason = "Customer returned to automated support due to inactivity."

// ReleaseReason is recorded when an agent hands a session back explicitly.
const ReleaseReason = "Customer returned to automated support by an agent."

// IsStale reports whether sess is in human mode and has been idle for at least threshold.
func IsStale(sess *models.Session, threshold time.Duration, now time.Time) bool {
	return sess.Status == models.StatusHuman && now.Sub(sess.LastUpdated) >= threshold
}

// IsHuman reports whether id is currently handled by a human agent.
func (s *Store) IsHuman(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id).IsHuman()
}

// EnterHumanMode moves id from waiting to human. It reports false without
// changing anything when the session is already human.
func (s *Store) EnterHumanMode(id string) (bool, error) {
	return s.transition(id, models.StatusWaiting, models.StatusHuman, "")
}

// ReturnToAutomated moves id from human back to waiting and records reason as a
// system message. It reports false when the session was not human.
func (s *Store) ReturnToAutomated(id, reason string) (bool, error) {
	return s.transition(id, models.StatusHuman, models.StatusWaiting, reason)
}

// CheckInactivity returns a stale human session to automated support. It reports
// whether a reversion happened.
func (s *Store) CheckInactivity(id string, threshold time.Duration) (bool, error) {
	s.mu.Lock()
	stale := IsStale(s.loadLocked(id), threshold, s.now())
	s.mu.Unlock()
	if !stale {
		return false, nil
	}
	return s.ReturnToAutomated(id, InactivityReason)
}

func (s *Store) transition(id string, from, to models.Status, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.loadLocked(id)
	if sess.Status != from {
		slog.Debug("session.Store status transition skipped", "id", id, "status", sess.Status, "wanted_from", from, "to", to)
		return false, nil
	}
	now := s.now()
	sess.Status = to
	sess.LastStatusChange = now
	sess.LastUpdated = now
	if note != "" {
		sess.Messages = append(sess.Messages, models.Message{Role: models.RoleSystem, Content: note, Timestamp: now})
	}
	slog.Info("session.Store status changed", "id", id, "from", from, "to", to)
	if err := s.persistLocked(id); err != nil {
		return true, err
	}
	return true, nil
}
