package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/notify"
	"github.com/BTreeMap/ShopPipe/internal/session"
	"github.com/BTreeMap/ShopPipe/internal/store"
	"github.com/BTreeMap/ShopPipe/internal/vision"
	"github.com/BTreeMap/ShopPipe/internal/whatsapp"
)

const testCatalog = `
store: Test Shoes
products:
  - name: Shoe A
    aliases: [alpha]
    description: Shoe A is on sale!
    link: https://example.com/a
    image: a.png
  - name: Shoe B
    aliases: [beta]
    description: Shoe B just arrived!
    link: https://example.com/b
    image: missing.png
`

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeIdentifier struct {
	result vision.Result
	calls  int
	image  []byte
}

func (f *fakeIdentifier) Identify(ctx context.Context, image []byte, mimeType string) vision.Result {
	f.calls++
	f.image = image
	return f.result
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notify.OrderNotice
	err     error
}

func (f *fakeNotifier) NotifyOrder(ctx context.Context, n notify.OrderNotice) (notify.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return notify.Delivery{To: "owner", Message: notify.FormatOrder(n)}, f.err
}

// flakySender fails the next `failures` text sends, then delegates.
type flakySender struct {
	*whatsapp.MockClient
	failures int
}

func (f *flakySender) SendMessage(ctx context.Context, to, body string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("send failed")
	}
	return f.MockClient.SendMessage(ctx, to, body)
}

type harness struct {
	router     *Router
	store      *session.Store
	repo       *store.InMemoryStore
	sender     *whatsapp.MockClient
	clock      *testClock
	identifier *fakeIdentifier
	notifier   *fakeNotifier
	seq        atomic.Int64
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	h := &harness{
		repo:       store.NewInMemoryStore(),
		sender:     whatsapp.NewMockClient(),
		clock:      &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		identifier: &fakeIdentifier{},
		notifier:   &fakeNotifier{},
	}
	h.store = session.NewStore(h.repo, session.WithClock(h.clock.Now))
	base := []Option{
		WithBrowseDelays(0, 0),
		WithHandoffDelay(0),
		WithIdentifier(h.identifier),
		WithNotifier(h.notifier),
		WithOrderIDs(func() string { return "order-1" }),
		WithReadFile(func(path string) ([]byte, error) {
			if path == "a.png" {
				return []byte("\x89PNG\r\n\x1a\nfake"), nil
			}
			return nil, fmt.Errorf("open %s: no such file", path)
		}),
	}
	h.router = NewRouter(h.store, h.sender, cat, append(base, opts...)...)
	return h
}

func (h *harness) msg(from, body string) models.InboundMessage {
	return models.InboundMessage{
		ID:         fmt.Sprintf("m%d", h.seq.Add(1)),
		From:       from,
		SenderName: "Ana",
		Body:       body,
		Time:       h.clock.Now(),
	}
}

func (h *harness) send(from, body string) {
	h.router.Handle(context.Background(), h.msg(from, body))
}

// greet gets past the first-interaction rule.
func (h *harness) greet(t *testing.T, from string) {
	t.Helper()
	h.send(from, "hi")
	if got := len(h.store.Load(from).Messages); got != 2 {
		t.Fatalf("expected greeting exchange of 2 messages, got %d", got)
	}
	h.sender.Reset()
}

func (h *harness) lastBody(t *testing.T) string {
	t.Helper()
	bodies := h.sender.Bodies()
	if len(bodies) == 0 {
		t.Fatal("no messages sent")
	}
	return bodies[len(bodies)-1]
}

func imageAttachment(data []byte, err error) *models.Attachment {
	return &models.Attachment{
		MimeType: "image/jpeg",
		Size:     uint64(len(data)),
		Download: func(context.Context) ([]byte, error) { return data, err },
	}
}
