package flow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/notify"
	"github.com/BTreeMap/ShopPipe/internal/session"
	"github.com/BTreeMap/ShopPipe/internal/store"
	"github.com/BTreeMap/ShopPipe/internal/vision"
)

// Defaults for the persona and per-message inactivity check.
const (
	DefaultAgentName          = "Samuel"
	DefaultMessageIdleTimeout = 30 * time.Minute
)

// ImageIdentifier identifies a catalog product in a photo. *vision.Identifier satisfies it.
type ImageIdentifier interface {
	Identify(ctx context.Context, image []byte, mimeType string) vision.Result
}

// Opts holds configuration options for the router.
type Opts struct {
	StoreName          string
	AgentName          string
	MessageIdleTimeout time.Duration
	BrowseImageDelay   time.Duration
	BrowseItemDelay    time.Duration
	HandoffDelay       time.Duration
	Dedup              store.DedupRepo
	Identifier         ImageIdentifier
	Notifier           notify.Notifier
	OrderIDs           func() string
	ReadFile           func(string) ([]byte, error)
}

// Option defines a configuration option for the router.
type Option func(*Opts)

// WithStoreName sets the store name used in menus. Defaults to the catalog's store.
func WithStoreName(name string) Option {
	return func(o *Opts) { o.StoreName = name }
}

// WithAgentName sets the name of the human agent persona.
func WithAgentName(name string) Option {
	return func(o *Opts) { o.AgentName = name }
}

// WithMessageIdleTimeout sets the idle time after which an inbound message ends human mode.
func WithMessageIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.MessageIdleTimeout = d }
}

// WithBrowseDelays sets the pauses after a product image and after each product.
func WithBrowseDelays(image, item time.Duration) Option {
	return func(o *Opts) {
		o.BrowseImageDelay = image
		o.BrowseItemDelay = item
	}
}

// WithHandoffDelay sets the pause between the order summary and the agent greeting.
func WithHandoffDelay(d time.Duration) Option {
	return func(o *Opts) { o.HandoffDelay = d }
}

// WithDedup sets the duplicate message filter.
func WithDedup(d store.DedupRepo) Option {
	return func(o *Opts) { o.Dedup = d }
}

// WithIdentifier sets the photo identifier. Without one, photos get the analysis failure reply.
func WithIdentifier(id ImageIdentifier) Option {
	return func(o *Opts) { o.Identifier = id }
}

// WithNotifier sets the owner notifier for completed orders.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithOrderIDs overrides order id generation, used by tests.
func WithOrderIDs(gen func() string) Option {
	return func(o *Opts) { o.OrderIDs = gen }
}

// WithReadFile overrides how product images are read, used by tests.
func WithReadFile(read func(string) ([]byte, error)) Option {
	return func(o *Opts) { o.ReadFile = read }
}

// Router dispatches inbound messages through the menu. The first matching rule wins:
//
//  1. group and broadcast messages are dropped
//  2. duplicate message ids are dropped
//  3. human-mode sessions only record the message
//  4. human-mode sessions idle past the timeout return to the menu
//  5. an order in progress goes to the wizard
//  6. the catalog submenu handles its options
//  7. first contact without media gets the menu
//  8. option 2 asks for a photo
//  9. a photo, when one is expected, is identified and handed to an agent
//  10. option 1 browses the catalog
//  11. option 3 starts an order
//  12. option 4 hands off to an agent
//  13. anything else gets the menu
type Router struct {
	store      *session.Store
	out        *replier
	dedup      store.DedupRepo
	identifier ImageIdentifier
	wizard     *Wizard
	browser    *Browser

	storeName   string
	agentName   string
	idleTimeout time.Duration
}

// NewRouter creates a router replying through sender.
func NewRouter(st *session.Store, sender Sender, cat *catalog.Catalog, opts ...Option) *Router {
	cfg := Opts{
		AgentName:          DefaultAgentName,
		MessageIdleTimeout: DefaultMessageIdleTimeout,
		BrowseImageDelay:   DefaultBrowseImageDelay,
		BrowseItemDelay:    DefaultBrowseItemDelay,
		HandoffDelay:       DefaultHandoffDelay,
		OrderIDs:           newOrderID,
		ReadFile:           os.ReadFile,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.StoreName == "" {
		cfg.StoreName = cat.Store
	}
	if cfg.Dedup == nil {
		cfg.Dedup = store.NewMemoryDedup(store.DefaultDedupCapacity)
	}
	if cfg.MessageIdleTimeout <= 0 {
		cfg.MessageIdleTimeout = DefaultMessageIdleTimeout
	}

	out := &replier{sender: sender, store: st}
	r := &Router{
		store:       st,
		out:         out,
		dedup:       cfg.Dedup,
		identifier:  cfg.Identifier,
		storeName:   cfg.StoreName,
		agentName:   cfg.AgentName,
		idleTimeout: cfg.MessageIdleTimeout,
	}
	r.wizard = &Wizard{
		store:    st,
		out:      out,
		notifier: cfg.Notifier,
		handoff:  r.Handoff,
		delay:    cfg.HandoffDelay,
		newID:    cfg.OrderIDs,
	}
	r.browser = &Browser{
		catalog:    cat,
		store:      st,
		out:        out,
		count:      DefaultBrowseCount,
		imageDelay: cfg.BrowseImageDelay,
		itemDelay:  cfg.BrowseItemDelay,
		readFile:   cfg.ReadFile,
	}
	return r
}

// Handle processes one inbound message. The session is locked for the whole call.
func (r *Router) Handle(ctx context.Context, msg models.InboundMessage) {
	if msg.IsGroup || msg.IsBroadcast || isGroupID(msg.From) {
		slog.Debug("Router ignoring group or broadcast message", "from", msg.From)
		return
	}
	if msg.ID != "" && !r.dedup.RecordInbound(msg.ID) {
		slog.Debug("Router ignoring duplicate message", "id", msg.ID, "from", msg.From)
		return
	}

	id := msg.From
	unlock := r.store.Lock(id)
	defer unlock()

	sess := r.store.Load(id)
	if sess.IsHuman() {
		if !session.IsStale(sess, r.idleTimeout, r.store.Now()) {
			slog.Debug("Router session in human mode, recording only", "id", id)
			if err := r.store.AddMessage(id, models.RoleUser, msg.Body); err != nil {
				slog.Error("Router failed to record message", "id", id, "error", err)
			}
			return
		}
	}

	if err := r.route(ctx, msg); err != nil {
		slog.Error("Router failed to handle message", "id", id, "error", err)
		if err := r.out.say(ctx, id, ErrorReply); err != nil {
			slog.Error("Router could not send error reply", "id", id, "error", err)
		}
	}
}

// route runs rules 4 to 13.
func (r *Router) route(ctx context.Context, msg models.InboundMessage) error {
	id := msg.From
	reverted, err := r.store.CheckInactivity(id, r.idleTimeout)
	if err != nil {
		return err
	}

	if err := r.store.UpdateUserInfo(id, func(u *models.UserInfo) {
		if msg.SenderName != "" {
			u.Name = msg.SenderName
		}
	}); err != nil {
		return err
	}
	if err := r.store.AddMessage(id, models.RoleUser, msg.Body); err != nil {
		return err
	}
	sess := r.store.Load(id)
	text := normalize(msg.Body)

	switch {
	case reverted:
		slog.Info("Router session returned from human mode after inactivity", "id", id)
		return r.welcome(ctx, sess)
	case sess.UserInfo.OrderStep != models.OrderStepNone:
		return r.wizard.Advance(ctx, id, msg.Body)
	case sess.UserInfo.CurrentState == models.SubStateCatalogSubmenu:
		return r.submenu(ctx, sess, text)
	case len(sess.Messages) <= 2 && !msg.HasAttachment():
		return r.welcome(ctx, sess)
	case choice(text, "2", photoKeywords):
		if err := r.store.UpdateUserInfo(id, func(u *models.UserInfo) { u.AwaitingImage = true }); err != nil {
			return err
		}
		return r.out.say(ctx, id, PhotoPrompt)
	case (sess.UserInfo.AwaitingImage || text == "2") && msg.HasAttachment():
		return r.identifyPhoto(ctx, id, msg.Attachment)
	case choice(text, "1", browseKeywords):
		return r.browse(ctx, id)
	case choice(text, "3", orderKeywords):
		return r.wizard.Start(ctx, id)
	case choice(text, "4", agentKeywords):
		return r.Handoff(ctx, id)
	}
	return r.welcome(ctx, sess)
}

func (r *Router) welcome(ctx context.Context, sess *models.Session) error {
	return r.out.say(ctx, sess.ID, WelcomeMenu(r.storeName, sess.UserInfo.Name))
}

// submenu handles the options shown after a catalog browse.
func (r *Router) submenu(ctx context.Context, sess *models.Session, text string) error {
	id := sess.ID
	leave := func() error {
		return r.store.UpdateUserInfo(id, func(u *models.UserInfo) {
			u.CurrentState = models.SubStateNone
		})
	}
	switch text {
	case "1":
		if err := r.Handoff(ctx, id); err != nil {
			return err
		}
		return leave()
	case "0":
		if err := r.welcome(ctx, sess); err != nil {
			return err
		}
		return leave()
	}
	return r.out.say(ctx, id, SubmenuInvalid)
}

func (r *Router) browse(ctx context.Context, id string) error {
	if err := r.out.say(ctx, id, BrowseIntro(r.storeName)); err != nil {
		return err
	}
	if err := r.browser.Browse(ctx, id); err != nil {
		slog.Error("Router catalog browse failed", "id", id, "error", err)
		if ctx.Err() != nil {
			return nil
		}
		return r.out.say(ctx, id, BrowseFailedReply)
	}
	return nil
}

// identifyPhoto downloads the attachment, identifies it, replies with the
// outcome and hands the customer to an agent whatever the outcome.
func (r *Router) identifyPhoto(ctx context.Context, id string, att *models.Attachment) error {
	data, err := r.download(ctx, att)
	if err != nil {
		slog.Warn("Router could not process media", "id", id, "mime", att.MimeType, "error", err)
		return r.out.say(ctx, id, MediaFailedReply)
	}
	if err := r.store.UpdateUserInfo(id, func(u *models.UserInfo) { u.AwaitingImage = false }); err != nil {
		return err
	}

	reply := AnalysisFailedReply
	if r.identifier != nil {
		res := r.identifier.Identify(ctx, data, att.MimeType)
		slog.Info("Router photo identified", "id", id, "outcome", res.Outcome)
		reply = identifyReply(res)
	} else {
		slog.Error("Router no image identifier configured", "id", id)
	}
	if err := r.out.say(ctx, id, reply); err != nil {
		return err
	}
	return r.Handoff(ctx, id)
}

func (r *Router) download(ctx context.Context, att *models.Attachment) ([]byte, error) {
	if !strings.HasPrefix(att.MimeType, "image/") {
		return nil, fmt.Errorf("unsupported media type %q", att.MimeType)
	}
	if att.Download == nil {
		return nil, fmt.Errorf("attachment has no content")
	}
	return att.Download(ctx)
}

func identifyReply(res vision.Result) string {
	switch res.Outcome {
	case vision.OutcomeMatched:
		return FoundReply(*res.Product)
	case vision.OutcomeNotFound:
		return NotInStockReply
	case vision.OutcomeInvalidImage:
		return InvalidImageReply
	case vision.OutcomeNoAnalysis:
		return NoAnalysisReply
	}
	return AnalysisFailedReply
}

// Handoff greets the customer as the agent persona and moves the session to
// human mode. Sessions already in human mode are left alone.
func (r *Router) Handoff(ctx context.Context, id string) error {
	if r.store.IsHuman(id) {
		slog.Debug("Router Handoff skipped, already in human mode", "id", id)
		return nil
	}
	if err := r.out.say(ctx, id, HandoffGreeting(r.agentName)); err != nil {
		return err
	}
	if _, err := r.store.EnterHumanMode(id); err != nil {
		return err
	}
	slog.Info("Router customer handed to agent", "id", id)
	return nil
}

// isGroupID recognises group and broadcast chat ids that arrive without flags.
func isGroupID(id string) bool {
	return strings.HasSuffix(id, "@g.us") || strings.HasSuffix(id, "@broadcast") || strings.Contains(id, "-")
}
