package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/notify"
	"github.com/BTreeMap/ShopPipe/internal/session"
	"github.com/google/uuid"
)

// DefaultHandoffDelay separates the order summary from the agent greeting.
const DefaultHandoffDelay = 1500 * time.Millisecond

// Wizard collects an order in three questions: model, size, color.
type Wizard struct {
	store    *session.Store
	out      *replier
	notifier notify.Notifier
	handoff  func(ctx context.Context, id string) error
	delay    time.Duration
	newID    func() string
}

// Start begins a new order for id and asks for the model.
func (w *Wizard) Start(ctx context.Context, id string) error {
	slog.Info("Wizard Start", "id", id)
	err := w.store.UpdateUserInfo(id, func(u *models.UserInfo) {
		u.OrderStep = models.OrderStepStart
		u.Order = &models.Order{}
	})
	if err == nil {
		err = w.askModel(ctx, id)
	}
	if err != nil {
		return w.abort(ctx, id, err)
	}
	return nil
}

// Advance feeds answer to the current wizard step.
func (w *Wizard) Advance(ctx context.Context, id, answer string) error {
	step := w.store.Load(id).UserInfo.OrderStep
	slog.Debug("Wizard Advance", "id", id, "step", step)
	if err := w.advance(ctx, id, step, strings.TrimSpace(answer)); err != nil {
		return w.abort(ctx, id, err)
	}
	return nil
}

func (w *Wizard) advance(ctx context.Context, id string, step models.OrderStep, answer string) error {
	switch step {
	case models.OrderStepStart:
		return w.askModel(ctx, id)
	case models.OrderStepModel:
		if answer == "" {
			return w.out.say(ctx, id, AskModel)
		}
		return w.record(ctx, id, func(o *models.Order) { o.Model = answer }, models.OrderStepSize, AskSize)
	case models.OrderStepSize:
		if answer == "" {
			return w.out.say(ctx, id, AskSize)
		}
		return w.record(ctx, id, func(o *models.Order) { o.Size = answer }, models.OrderStepColor, AskColor)
	case models.OrderStepColor:
		if answer == "" {
			return w.out.say(ctx, id, AskColor)
		}
		return w.complete(ctx, id, answer)
	}
	return fmt.Errorf("%w: %q", models.ErrUnknownStep, step)
}

func (w *Wizard) askModel(ctx context.Context, id string) error {
	if err := w.out.say(ctx, id, AskModel); err != nil {
		return err
	}
	return w.store.UpdateUserInfo(id, func(u *models.UserInfo) {
		u.OrderStep = models.OrderStepModel
	})
}

// record stores one answer, moves to next and asks the next question.
func (w *Wizard) record(ctx context.Context, id string, set func(*models.Order), next models.OrderStep, question string) error {
	err := w.store.UpdateUserInfo(id, func(u *models.UserInfo) {
		if u.Order == nil {
			u.Order = &models.Order{}
		}
		set(u.Order)
		u.OrderStep = next
	})
	if err != nil {
		return err
	}
	return w.out.say(ctx, id, question)
}

// complete stores the color, stamps the order, notifies the owner, confirms the
// order to the customer and hands the conversation to an agent.
func (w *Wizard) complete(ctx context.Context, id, color string) error {
	placedAt := w.store.Now()
	var order models.Order
	var name string
	err := w.store.UpdateUserInfo(id, func(u *models.UserInfo) {
		if u.Order == nil {
			u.Order = &models.Order{}
		}
		u.Order.Color = color
		u.Order.ID = w.newID()
		u.Order.PlacedAt = &placedAt
		order = *u.Order
		name = u.Name
	})
	if err != nil {
		return err
	}
	slog.Info("Wizard order completed", "id", id, "order_id", order.ID, "model", order.Model, "size", order.Size, "color", order.Color)

	w.notifyOwner(ctx, id, name, order)

	if err := w.out.say(ctx, id, OrderSummary(order)); err != nil {
		return err
	}
	if err := pause(ctx, w.delay); err != nil {
		return err
	}
	if err := w.store.UpdateUserInfo(id, func(u *models.UserInfo) {
		u.OrderStep = models.OrderStepNone
	}); err != nil {
		return err
	}
	return w.handoff(ctx, id)
}

// notifyOwner delivers the order notice. Failures are logged only.
func (w *Wizard) notifyOwner(ctx context.Context, id, name string, order models.Order) {
	if w.notifier == nil {
		slog.Warn("Wizard no owner notifier configured", "id", id, "order_id", order.ID)
		return
	}
	d, err := w.notifier.NotifyOrder(ctx, notify.OrderNotice{Order: order, CustomerID: id, CustomerName: name})
	if err != nil {
		slog.Error("Wizard owner notification failed", "id", id, "order_id", order.ID, "error", err, "link", d.Link)
		return
	}
	slog.Debug("Wizard owner notified", "id", id, "to", d.To)
}

// abort apologises and resets the wizard. The failure is fully handled here.
func (w *Wizard) abort(ctx context.Context, id string, cause error) error {
	slog.Error("Wizard aborted", "id", id, "error", cause)
	if err := w.store.UpdateUserInfo(id, func(u *models.UserInfo) {
		u.OrderStep = models.OrderStepNone
	}); err != nil {
		slog.Error("Wizard could not reset order step", "id", id, "error", err)
	}
	if err := w.out.say(ctx, id, OrderFailedReply); err != nil {
		slog.Error("Wizard could not send apology", "id", id, "error", err)
	}
	return nil
}

func newOrderID() string {
	return uuid.NewString()
}
