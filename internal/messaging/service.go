// Package messaging connects ShopPipe to its chat transport.
//
// A Service delivers outbound texts and images and exposes inbound customer
// messages on a channel. A Dispatcher fans those messages out to a handler.
package messaging

import (
	"context"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendImage sends an image with an optional caption.
	SendImage(ctx context.Context, to string, img models.Media, caption string) error

	// Start begins any background processing (e.g., subscribing to events).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the Messages channel.
	Stop() error

	// Messages returns a channel of inbound customer messages.
	Messages() <-chan models.InboundMessage
}
