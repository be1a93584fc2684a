package flow

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/session"
)

// Browse pacing defaults.
const (
	DefaultBrowseCount      = 3
	DefaultBrowseImageDelay = 500 * time.Millisecond
	DefaultBrowseItemDelay  = 1500 * time.Millisecond
)

// Browser shows a random selection of catalog products.
type Browser struct {
	catalog    *catalog.Catalog
	store      *session.Store
	out        *replier
	count      int
	imageDelay time.Duration
	itemDelay  time.Duration
	readFile   func(string) ([]byte, error)
}

// Browse sends a few random products to id, each as an image
// followed by its description, then the submenu prompt, and leaves the session
// in the catalog submenu.
func (b *Browser) Browse(ctx context.Context, id string) error {
	products := b.catalog.Pick(b.count)
	slog.Info("Browser Browse", "id", id, "products", len(products))
	for _, p := range products {
		if err := b.show(ctx, id, p); err != nil {
			return err
		}
	}
	if err := b.out.say(ctx, id, SubmenuPrompt); err != nil {
		return err
	}
	return b.store.UpdateUserInfo(id, func(u *models.UserInfo) {
		u.CurrentState = models.SubStateCatalogSubmenu
	})
}

// show sends one product. A missing or unsendable image degrades to the text alone.
func (b *Browser) show(ctx context.Context, id string, p catalog.Product) error {
	caption := ProductCaption(p)
	img, err := b.loadImage(p)
	if err != nil {
		slog.Warn("Browser product image unavailable", "product", p.Name, "error", err)
		return b.out.say(ctx, id, caption)
	}
	if err := b.out.image(ctx, id, img); err != nil {
		slog.Warn("Browser image send failed, sending text only", "product", p.Name, "error", err)
		return b.out.say(ctx, id, caption)
	}
	if err := pause(ctx, b.imageDelay); err != nil {
		return err
	}
	if err := b.out.say(ctx, id, caption); err != nil {
		return err
	}
	return pause(ctx, b.itemDelay)
}

func (b *Browser) loadImage(p catalog.Product) (models.Media, error) {
	path := b.catalog.ImagePath(p)
	if path == "" {
		return models.Media{}, os.ErrNotExist
	}
	data, err := b.readFile(path)
	if err != nil {
		return models.Media{}, err
	}
	return models.Media{Data: data, MimeType: imageMimeType(path, data), FileName: filepath.Base(path)}, nil
}

// imageMimeType guesses the mime type from the extension, then from the content.
func imageMimeType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
