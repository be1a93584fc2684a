package session

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// AddMessage appends a message to the history of id. At capacity the history is
// first cut down to its most recent cap-1 entries, then the new one is appended.
func (s *Store) AddMessage(id string, role models.Role, content string) error {
	if !role.IsValid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidRole, role)
	}
	return s.Update(id, func(sess *models.Session) error {
		sess.Messages = appendCapped(sess.Messages, models.Message{
			Role:      role,
			Content:   content,
			Timestamp: s.now(),
		}, s.historyCap)
		return nil
	})
}

// appendCapped applies the trim-then-append rule to msgs.
func appendCapped(msgs []models.Message, m models.Message, limit int) []models.Message {
	if len(msgs) >= limit {
		kept := make([]models.Message, limit-1, limit)
		copy(kept, msgs[len(msgs)-(limit-1):])
		msgs = kept
	}
	return append(msgs, m)
}

// FormatForContext renders the history of id as a transcript bounded by maxTokens.
func (s *Store) FormatForContext(id string, maxTokens int) string {
	return FormatHistory(s.Load(id).Messages, maxTokens)
}

// FormatHistory renders the longest suffix of msgs whose estimated token cost fits
// in maxTokens, oldest first. Each message is rendered as "role: content\n\n" and
// costs a quarter token per character. Walking newest to oldest, it stops at the
// first message that would overflow.
func FormatHistory(msgs []models.Message, maxTokens int) string {
	budget := float64(maxTokens)
	var used float64
	parts := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		text := formatMessage(msgs[i])
		cost := EstimateTokens(text)
		if used+cost > budget {
			break
		}
		used += cost
		parts = append(parts, text)
	}
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteString(parts[i])
	}
	return b.String()
}

// EstimateTokens approximates the token cost of text.
func EstimateTokens(text string) float64 {
	return float64(utf8.RuneCountInString(text)) / 4
}

func formatMessage(m models.Message) string {
	return string(m.Role) + ": " + m.Content + "\n\n"
}
