// Package flow implements the ShopPipe conversation: the menu router, the order
// wizard, catalog browsing, photo identification and the hand-off to a human agent.
//
// Every component talks to the customer through the same replier, which sends a
// message and records it in the session history as an assistant turn.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/session"
	"golang.org/x/time/rate"
)

// Sender delivers outbound messages to a customer. messaging.Service satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendImage(ctx context.Context, to string, img models.Media, caption string) error
}

// replier sends texts and records them as assistant messages.
type replier struct {
	sender Sender
	store  *session.Store
}

// say sends text to id. The message is recorded only once it was sent; a
// failure to record it is logged and not returned.
func (r *replier) say(ctx context.Context, id, text string) error {
	if err := r.sender.SendMessage(ctx, id, text); err != nil {
		return fmt.Errorf("failed to send reply to %s: %w", id, err)
	}
	if err := r.store.AddMessage(id, models.RoleAssistant, text); err != nil {
		slog.Warn("flow reply sent but not recorded", "id", id, "error", err)
	}
	return nil
}

// image sends an image without recording it.
func (r *replier) image(ctx context.Context, id string, img models.Media) error {
	if err := r.sender.SendImage(ctx, id, img, ""); err != nil {
		return fmt.Errorf("failed to send image %s to %s: %w", img.FileName, id, err)
	}
	return nil
}

// pause waits d or until ctx is done. The wait goes through a one-token limiter
// whose initial token is spent up front, so Wait blocks for a full interval and
// honours cancellation.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	lim := rate.NewLimiter(rate.Every(d), 1)
	lim.Allow()
	return lim.Wait(ctx)
}
