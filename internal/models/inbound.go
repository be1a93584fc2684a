package models

import (
	"context"
	"time"
)

// InboundMessage is a customer message as delivered by the messaging transport.
type InboundMessage struct {
	ID          string      `json:"id"`
	From        string      `json:"from"` // chat id, used as the session id
	SenderName  string      `json:"sender_name,omitempty"`
	Body        string      `json:"body"`
	IsGroup     bool        `json:"is_group,omitempty"`
	IsBroadcast bool        `json:"is_broadcast,omitempty"`
	Time        time.Time   `json:"time"`
	Attachment  *Attachment `json:"attachment,omitempty"`
}

// HasAttachment reports whether the message carries media.
func (m InboundMessage) HasAttachment() bool {
	return m.Attachment != nil
}

// Attachment describes inbound media. Download fetches the bytes lazily.
type Attachment struct {
	MimeType string                                     `json:"mime_type"`
	Size     uint64                                     `json:"size"`
	Download func(ctx context.Context) ([]byte, error) `json:"-"`
}

// Media is an outbound binary payload.
type Media struct {
	Data     []byte
	MimeType string
	FileName string
}
