// Package notify tells the store owner about completed orders.
//
// Delivery is best-effort: callers log a failed notification and carry on.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 30 * time.Second

// Sender delivers a text message to a phone number or chat id. The WhatsApp and
// Twilio clients both satisfy it.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// OrderNotice is a completed order plus the customer who placed it.
type OrderNotice struct {
	Order        models.Order
	CustomerID   string
	CustomerName string
}

// Notifier delivers order notices.
type Notifier interface {
	NotifyOrder(ctx context.Context, n OrderNotice) (Delivery, error)
}

// Delivery describes a notification attempt.
type Delivery struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Link    string `json:"link"` // click-to-chat link carrying the same text
}

// Opts holds configuration options for the owner notifier.
type Opts struct {
	OwnerPhone string
	Timeout    time.Duration
}

// Option defines a configuration option for the owner notifier.
type Option func(*Opts)

// WithOwnerPhone sets the number that receives notices.
func WithOwnerPhone(phone string) Option {
	return func(o *Opts) {
		o.OwnerPhone = phone
	}
}

// WithTimeout overrides the delivery timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// OwnerNotifier sends order notices to the store owner through a Sender.
type OwnerNotifier struct {
	sender  Sender
	owner   string
	timeout time.Duration
}

var _ Notifier = (*OwnerNotifier)(nil)

// NewOwnerNotifier creates a notifier. The owner phone is required.
func NewOwnerNotifier(sender Sender, opts ...Option) (*OwnerNotifier, error) {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	owner := DigitsOnly(cfg.OwnerPhone)
	if owner == "" {
		return nil, fmt.Errorf("owner phone number not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &OwnerNotifier{sender: sender, owner: owner, timeout: cfg.Timeout}, nil
}

// NotifyOrder formats n and sends it to the owner within the configured timeout.
func (o *OwnerNotifier) NotifyOrder(ctx context.Context, n OrderNotice) (Delivery, error) {
	msg := FormatOrder(n)
	d := Delivery{To: o.owner, Message: msg, Link: ClickToChatLink(o.owner, msg)}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := o.sender.SendMessage(ctx, o.owner, msg); err != nil {
		slog.Warn("OwnerNotifier NotifyOrder delivery failed", "error", err, "customer", n.CustomerID, "link", d.Link)
		return d, fmt.Errorf("failed to notify owner: %w", err)
	}
	slog.Info("OwnerNotifier NotifyOrder delivered", "customer", n.CustomerID, "order_id", n.Order.ID)
	return d, nil
}

// FormatOrder renders the owner-facing notice.
func FormatOrder(n OrderNotice) string {
	name := n.CustomerName
	if name == "" {
		name = "not informed"
	}
	var b strings.Builder
	b.WriteString("*NEW ORDER RECEIVED!* 📦\n\n")
	fmt.Fprintf(&b, "*Product:* %s\n", n.Order.Model)
	fmt.Fprintf(&b, "*Size:* %s\n", n.Order.Size)
	fmt.Fprintf(&b, "*Color:* %s\n", n.Order.Color)
	fmt.Fprintf(&b, "*Contact:* %s\n", ContactNumber(n.CustomerID))
	fmt.Fprintf(&b, "*Customer:* %s\n", name)
	if n.Order.ID != "" {
		fmt.Fprintf(&b, "*Order:* %s\n", n.Order.ID)
	}
	b.WriteString("\n_This is an automatic notification. Do not reply to this message._")
	return b.String()
}

// ContactNumber strips the transport suffix from a chat id ("5511...@s.whatsapp.net" -> "5511...").
func ContactNumber(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		return id[:i]
	}
	return id
}

// ClickToChatLink builds a WhatsApp link that opens a chat with phone prefilled with text.
func ClickToChatLink(phone, text string) string {
	q := url.Values{}
	q.Set("phone", DigitsOnly(phone))
	q.Set("text", text)
	return "https://api.whatsapp.com/send?" + q.Encode()
}

// DigitsOnly removes every non-digit from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
