package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

const (
	// DefaultDirPermissions defines the default permissions for store directories
	DefaultDirPermissions = 0755
	// DefaultFilePermissions defines the permissions of session documents
	DefaultFilePermissions = 0644

	sessionFileExt = ".json"
)

// FileStore keeps one pretty-printed JSON document per session in a directory.
type FileStore struct {
	dir string
}

var _ SessionRepo = (*FileStore)(nil)

// NewFileStore creates the directory if needed and returns a file backend rooted at it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory not set")
	}
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("FileStore failed to create directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}
	slog.Debug("FileStore ready", "dir", dir)
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding session documents.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, key+sessionFileExt)
}

func (f *FileStore) GetSession(key string) (*models.Session, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", key, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", key, err)
	}
	return &sess, nil
}

func (f *FileStore) SaveSession(key string, s *models.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", key, err)
	}
	if err := atomicWriteFile(f.path(key), data, DefaultFilePermissions); err != nil {
		slog.Error("FileStore SaveSession failed", "error", err, "key", key)
		return fmt.Errorf("failed to write session %s: %w", key, err)
	}
	slog.Debug("FileStore SaveSession succeeded", "key", key, "bytes", len(data))
	return nil
}

func (f *FileStore) DeleteSession(key string) (bool, error) {
	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return true, nil
}

func (f *FileStore) ListSessions() (map[string]*models.Session, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory %s: %w", f.dir, err)
	}
	out := make(map[string]*models.Session, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, sessionFileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		key := strings.TrimSuffix(name, sessionFileExt)
		sess, err := f.GetSession(key)
		if err != nil {
			slog.Warn("FileStore ListSessions skipping unreadable record", "key", key, "error", err)
			continue
		}
		if sess != nil {
			out[key] = sess
		}
	}
	slog.Debug("FileStore ListSessions succeeded", "count", len(out))
	return out, nil
}

func (f *FileStore) Close() error { return nil }

// atomicWriteFile writes data to a temp file in the target directory, syncs it and
// renames it over filename, so readers never observe a partial document.
func atomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			if err := os.Remove(tmpName); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("failed to remove temporary file", "path", tmpName, "error", err)
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	committed = true
	return nil
}
