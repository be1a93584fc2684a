// Package store provides durable backends for ShopPipe session records.
//
// A backend stores one record per sanitized session key. The session package
// layers an in-memory cache over whichever backend is configured.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// Backend type names returned by DetectBackend.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite3"
	BackendPostgres = "postgres"

	// DirPrefix marks a session DSN as a directory of JSON documents.
	DirPrefix = "dir:"
)

// SessionRepo persists session records by key.
type SessionRepo interface {
	// GetSession returns the record stored under key, or nil and no error when absent.
	GetSession(key string) (*models.Session, error)
	// SaveSession writes the full record under key, replacing any previous one.
	SaveSession(key string, s *models.Session) error
	// DeleteSession removes the record. It reports whether a record existed.
	DeleteSession(key string) (bool, error)
	// ListSessions returns every readable record indexed by key. Corrupt records are skipped.
	ListSessions() (map[string]*models.Session, error)
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // directory, SQLite path or Postgres connection string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the backend data source.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// DetectDSNType reports whether dsn names a Postgres or SQLite database.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return BackendPostgres
	}
	return BackendSQLite
}

// DetectBackend classifies a session store DSN. Empty DSNs and the "dir:" scheme select
// the JSON file backend; everything else is handed to DetectDSNType.
func DetectBackend(dsn string) string {
	if dsn == "" || strings.HasPrefix(dsn, DirPrefix) {
		return BackendFile
	}
	return DetectDSNType(dsn)
}

// Open constructs the backend selected by the configured DSN.
func Open(opts ...Option) (SessionRepo, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	backend := DetectBackend(cfg.DSN)
	slog.Debug("store.Open selecting backend", "backend", backend, "dsn_set", cfg.DSN != "")
	switch backend {
	case BackendFile:
		return NewFileStore(strings.TrimPrefix(cfg.DSN, DirPrefix))
	case BackendPostgres:
		return NewPostgresStore(opts...)
	case BackendSQLite:
		return NewSQLiteStore(opts...)
	}
	return nil, fmt.Errorf("unsupported session store backend %q", backend)
}

// SessionKey maps a customer id to a filesystem-safe key: every rune outside
// [A-Za-z0-9] becomes an underscore. Distinct ids may map to the same key.
func SessionKey(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// InMemoryStore is a SessionRepo kept in process memory, used in tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewInMemoryStore creates an empty in-memory backend.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.Session)}
}

func (s *InMemoryStore) GetSession(key string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[key].Clone(), nil
}

func (s *InMemoryStore) SaveSession(key string, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = sess.Clone()
	return nil
}

func (s *InMemoryStore) DeleteSession(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[key]
	delete(s.sessions, key)
	return ok, nil
}

func (s *InMemoryStore) ListSessions() (map[string]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.Session, len(s.sessions))
	for k, v := range s.sessions {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
