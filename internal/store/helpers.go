package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// encodeSession serialises a session for the data column.
func encodeSession(s *models.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}
	return data, nil
}

// decodeSession parses the data column of a session row.
func decodeSession(key string, data []byte) (*models.Session, error) {
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", key, err)
	}
	return &sess, nil
}

// scanSessions reads (session_key, data) rows, skipping rows that fail to parse.
func scanSessions(backend string, rows *sql.Rows) (map[string]*models.Session, error) {
	defer rows.Close()
	out := make(map[string]*models.Session)
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sess, err := decodeSession(key, data)
		if err != nil {
			slog.Warn("store ListSessions skipping corrupt record", "backend", backend, "key", key, "error", err)
			continue
		}
		out[key] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return out, nil
}
