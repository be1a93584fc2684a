// Package models defines the session, message and order types shared across ShopPipe.
package models

import (
	"errors"
	"time"
)

// Role identifies who authored a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Status is the handling mode of a session.
type Status string

const (
	// StatusWaiting means the bot handles the customer.
	StatusWaiting Status = "waiting"
	// StatusHuman means a human agent owns the conversation.
	StatusHuman Status = "human"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusWaiting || s == StatusHuman
}

// OrderStep is the cursor of the order wizard.
type OrderStep string

const (
	OrderStepNone  OrderStep = ""
	OrderStepStart OrderStep = "start"
	OrderStepModel OrderStep = "model"
	OrderStepSize  OrderStep = "size"
	OrderStepColor OrderStep = "color"
)

// SubState is a menu sub-state that captures the next inbound message.
type SubState string

const (
	SubStateNone           SubState = ""
	SubStateCatalogSubmenu SubState = "catalog_submenu"
)

// Defaults shared by the session store and its callers.
const (
	DefaultHistoryCap         = 20
	DefaultContextTokenBudget = 2000
)

// Sentinel errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptySessionID  = errors.New("session id is required")
	ErrInvalidRole     = errors.New("invalid message role")
	ErrUnknownStep     = errors.New("unknown order step")
)

// Message is one entry of a session history. Messages are never modified after append.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is the order being collected by the wizard. ID and PlacedAt are set on completion.
type Order struct {
	ID       string     `json:"id,omitempty"`
	Model    string     `json:"model,omitempty"`
	Size     string     `json:"size,omitempty"`
	Color    string     `json:"color,omitempty"`
	PlacedAt *time.Time `json:"placedAt,omitempty"`
}

// UserInfo holds per-customer attributes and menu state.
type UserInfo struct {
	Name          string    `json:"name,omitempty"`
	CurrentState  SubState  `json:"currentState,omitempty"`
	OrderStep     OrderStep `json:"orderStep,omitempty"`
	Order         *Order    `json:"order,omitempty"`
	AwaitingImage bool      `json:"awaitingImage,omitempty"`
}

// Session is the durable conversation record of one customer.
type Session struct {
	ID               string    `json:"id"`
	Messages         []Message `json:"messages"`
	UserInfo         UserInfo  `json:"userInfo"`
	LastUpdated      time.Time `json:"lastUpdated"`
	Status           Status    `json:"status"`
	LastStatusChange time.Time `json:"lastStatusChange"`
	Protocol         string    `json:"protocol,omitempty"`
}

// NewSession returns a default session for id: waiting, no history, timestamps set to now.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:               id,
		Messages:         []Message{},
		LastUpdated:      now,
		Status:           StatusWaiting,
		LastStatusChange: now,
	}
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	if s.UserInfo.Order != nil {
		o := *s.UserInfo.Order
		if o.PlacedAt != nil {
			t := *o.PlacedAt
			o.PlacedAt = &t
		}
		c.UserInfo.Order = &o
	}
	return &c
}

// IsHuman reports whether a human agent owns the session.
func (s *Session) IsHuman() bool {
	return s.Status == StatusHuman
}

// Now returns the current time in the form persisted in session records:
// UTC, millisecond precision, no monotonic reading.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
