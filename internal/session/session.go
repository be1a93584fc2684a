// Package session owns per-customer conversation state for ShopPipe.
//
// Store keeps one authoritative in-memory Session per id, layered over a durable
// store.SessionRepo. Every mutation goes through the Store and is written through
// to the repository before the call returns. Callers that perform a
// load-mutate-save sequence spanning several calls hold Lock(id) around it.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

// ErrStatusMutation is returned when an Update callback changes the session status.
// Status changes go through EnterHumanMode and ReturnToAutomated.
var ErrStatusMutation = errors.New("session status may only change through the status lifecycle")

// Opts holds configuration options for the session store.
type Opts struct {
	HistoryCap int
	Clock      func() time.Time
}

// Option defines a configuration option for the session store.
type Option func(*Opts)

// WithHistoryCap sets the maximum number of messages kept per session.
func WithHistoryCap(n int) Option {
	return func(o *Opts) {
		o.HistoryCap = n
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Clock = now
	}
}

// Store is the write-through session cache.
type Store struct {
	repo       store.SessionRepo
	historyCap int
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]*models.Session
	locks *keyedMutex
}

// NewStore creates a Store over repo.
func NewStore(repo store.SessionRepo, opts ...Option) *Store {
	cfg := Opts{HistoryCap: models.DefaultHistoryCap, Clock: models.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HistoryCap < 1 {
		slog.Warn("session.NewStore: invalid history cap, using default", "cap", cfg.HistoryCap, "default", models.DefaultHistoryCap)
		cfg.HistoryCap = models.DefaultHistoryCap
	}
	return &Store{
		repo:       repo,
		historyCap: cfg.HistoryCap,
		now:        cfg.Clock,
		cache:      make(map[string]*models.Session),
		locks:      newKeyedMutex(),
	}
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// HistoryCap returns the configured history cap.
func (s *Store) HistoryCap() int {
	return s.historyCap
}

// Lock acquires the per-id lock and returns its release function.
func (s *Store) Lock(id string) func() {
	return s.locks.Lock(id)
}

// Load returns a snapshot of the session for id. A cached session wins; otherwise
// the durable record is read; otherwise a default session is created. Read and
// parse failures are logged and yield a default session.
func (s *Store) Load(id string) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id).Clone()
}

// loadLocked returns the live cached session. Caller holds s.mu.
func (s *Store) loadLocked(id string) *models.Session {
	if sess, ok := s.cache[id]; ok {
		return sess
	}
	key := store.SessionKey(id)
	sess, err := s.repo.GetSession(key)
	if err != nil {
		slog.Error("session.Store Load failed to read record, starting fresh", "id", id, "key", key, "error", err)
		sess = nil
	}
	if sess == nil {
		sess = models.NewSession(id, s.now())
		slog.Debug("session.Store Load created default session", "id", id)
	} else {
		if sess.ID == "" {
			sess.ID = id
		}
		if sess.Messages == nil {
			sess.Messages = []models.Message{}
		}
		if sess.Status == "" {
			sess.Status = models.StatusWaiting
		}
	}
	s.cache[id] = sess
	return sess
}

// Save stamps LastUpdated on sess, makes it the cached session for id and writes it
// through. The cache is updated even when the write fails.
func (s *Store) Save(id string, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = id
	}
	sess.LastUpdated = s.now()
	s.cache[id] = sess.Clone()
	return s.persistLocked(id)
}

// persistLocked writes the cached session for id. Caller holds s.mu.
func (s *Store) persistLocked(id string) error {
	sess := s.cache[id]
	key := store.SessionKey(id)
	if err := s.repo.SaveSession(key, sess); err != nil {
		slog.Error("session.Store failed to persist session", "id", id, "key", key, "error", err)
		return fmt.Errorf("failed to persist session %s: %w", id, err)
	}
	return nil
}

// Update runs fn on the live session for id, stamps LastUpdated and persists the
// result. If fn returns an error nothing is persisted and the in-memory session is
// restored.
func (s *Store) Update(id string, fn func(*models.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.loadLocked(id)
	before := sess.Clone()
	if err := fn(sess); err != nil {
		s.cache[id] = before
		return err
	}
	if sess.Status != before.Status || !sess.LastStatusChange.Equal(before.LastStatusChange) {
		s.cache[id] = before
		return ErrStatusMutation
	}
	sess.LastUpdated = s.now()
	return s.persistLocked(id)
}

// UpdateUserInfo mutates the profile of id and persists it.
func (s *Store) UpdateUserInfo(id string, fn func(*models.UserInfo)) error {
	return s.Update(id, func(sess *models.Session) error {
		oldName := sess.UserInfo.Name
		fn(&sess.UserInfo)
		if sess.UserInfo.Name != oldName {
			slog.Debug("session.Store UpdateUserInfo name changed", "id", id, "old", oldName, "new", sess.UserInfo.Name)
		}
		return nil
	})
}

// Delete drops the cached session and its durable record. Deleting an unknown id
// is not an error; the result reports whether a record existed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, cached := s.cache[id]
	delete(s.cache, id)
	existed, err := s.repo.DeleteSession(store.SessionKey(id))
	if err != nil {
		slog.Error("session.Store Delete failed", "id", id, "error", err)
		return cached, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	slog.Info("session.Store deleted session", "id", id, "existed", existed || cached)
	return existed || cached, nil
}

// ListAll enumerates durable records keyed by the customer id stored in each
// record; records without an id are keyed by their sanitized key.
func (s *Store) ListAll() (map[string]*models.Session, error) {
	records, err := s.repo.ListSessions()
	if err != nil {
		slog.Error("session.Store ListAll failed", "error", err)
		return nil, err
	}
	out := make(map[string]*models.Session, len(records))
	for key, sess := range records {
		id := sess.ID
		if id == "" {
			id = key
		}
		out[id] = sess
	}
	return out, nil
}

// Get returns a snapshot of an existing session without creating one. It returns
// models.ErrSessionNotFound when id is neither cached nor stored.
func (s *Store) Get(id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[id]; ok {
		return sess.Clone(), nil
	}
	sess, err := s.repo.GetSession(store.SessionKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	if sess == nil {
		return nil, models.ErrSessionNotFound
	}
	return s.loadLocked(id).Clone(), nil
}
