package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an inbound event may wait for channel space
	DefaultChannelTimeout = 1 * time.Second
)

// errNoDownloader is returned by attachments received without a connected client.
var errNoDownloader = errors.New("media download not available")

// downloader fetches and decrypts inbound media. *whatsmeow.Client satisfies it.
type downloader interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // access to underlying client for event handling
	messages chan models.InboundMessage

	mu        sync.Mutex
	handlerID uint32
	stopped   bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		messages: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// Start subscribes to WhatsApp events. Without a full client it does nothing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	wa := s.waClient.GetClient()
	s.mu.Lock()
	s.handlerID = wa.AddEventHandler(func(evt interface{}) {
		s.handleEvent(evt, wa)
	})
	s.mu.Unlock()
	slog.Info("WhatsAppService event handler registered")
	return nil
}

// Stop unsubscribes from events and closes the Messages channel. Calling it
// twice is safe.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().RemoveEventHandler(s.handlerID)
	}
	close(s.messages)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendImage sends an image message.
func (s *WhatsAppService) SendImage(ctx context.Context, to string, img models.Media, caption string) error {
	slog.Debug("WhatsAppService SendImage invoked", "to", to, "file", img.FileName, "bytes", len(img.Data))
	if err := s.client.SendImage(ctx, to, img, caption); err != nil {
		slog.Error("WhatsAppService SendImage error", "error", err, "to", to)
		return err
	}
	return nil
}

// Messages returns a channel of inbound customer messages.
func (s *WhatsAppService) Messages() <-chan models.InboundMessage {
	return s.messages
}

// handleEvent converts WhatsApp message events and forwards them to the
// Messages channel. Other events are ignored.
func (s *WhatsAppService) handleEvent(evt interface{}, dl downloader) {
	msgEvt, ok := evt.(*events.Message)
	if !ok {
		slog.Debug("WhatsAppService ignoring event type", "type", getEventType(evt))
		return
	}
	in, ok := toInbound(msgEvt, dl)
	if !ok {
		return
	}
	s.deliver(in)
}

// deliver pushes in onto the Messages channel, dropping it if the channel stays
// full for DefaultChannelTimeout or the service has stopped.
func (s *WhatsAppService) deliver(in models.InboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		slog.Debug("WhatsAppService dropping message after stop", "id", in.ID)
		return
	}
	select {
	case s.messages <- in:
		slog.Debug("WhatsAppService inbound message forwarded", "from", in.From, "id", in.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService messages channel blocked, dropping message", "from", in.From, "timeout", DefaultChannelTimeout)
	}
}

// toInbound maps a whatsmeow message event onto an InboundMessage. Messages sent
// by this account and events without content are skipped.
func toInbound(evt *events.Message, dl downloader) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe {
		return models.InboundMessage{}, false
	}
	in := models.InboundMessage{
		ID:          evt.Info.ID,
		From:        evt.Info.Chat.ToNonAD().String(),
		SenderName:  evt.Info.PushName,
		IsGroup:     evt.Info.IsGroup || evt.Info.Chat.Server == types.GroupServer,
		IsBroadcast: evt.Info.Chat.Server == types.BroadcastServer,
		Time:        evt.Info.Timestamp,
	}

	m := evt.Message
	var media whatsmeow.DownloadableMessage
	switch {
	case m.GetConversation() != "":
		in.Body = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		in.Body = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		in.Body = img.GetCaption()
		in.Attachment = &models.Attachment{MimeType: img.GetMimetype(), Size: img.GetFileLength()}
		media = img
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		in.Body = doc.GetCaption()
		in.Attachment = &models.Attachment{MimeType: doc.GetMimetype(), Size: doc.GetFileLength()}
		media = doc
	case m.GetVideoMessage() != nil:
		vid := m.GetVideoMessage()
		in.Body = vid.GetCaption()
		in.Attachment = &models.Attachment{MimeType: vid.GetMimetype(), Size: vid.GetFileLength()}
		media = vid
	case m.GetAudioMessage() != nil:
		aud := m.GetAudioMessage()
		in.Attachment = &models.Attachment{MimeType: aud.GetMimetype(), Size: aud.GetFileLength()}
		media = aud
	default:
		slog.Debug("WhatsAppService ignoring unsupported message", "from", in.From, "id", in.ID)
		return models.InboundMessage{}, false
	}
	if in.Attachment != nil {
		in.Attachment.Download = downloadFunc(dl, media)
	}
	return in, true
}

func downloadFunc(dl downloader, media whatsmeow.DownloadableMessage) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		if dl == nil {
			return nil, errNoDownloader
		}
		return dl.Download(ctx, media)
	}
}

// getEventType returns a string representation of the event type for logging
func getEventType(evt interface{}) string {
	switch evt.(type) {
	case *events.Message:
		return "Message"
	case *events.Receipt:
		return "Receipt"
	case *events.Presence:
		return "Presence"
	case *events.Connected:
		return "Connected"
	case *events.Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}
