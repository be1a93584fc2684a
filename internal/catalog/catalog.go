// Package catalog loads the store's product list.
//
// The catalog is a static lookup table read from YAML. A copy ships embedded in
// the binary; CATALOG_PATH points at an override file.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ErrEmptyCatalog is returned when a catalog file lists no products.
var ErrEmptyCatalog = errors.New("catalog has no products")

// Product is one catalog entry.
type Product struct {
	Name        string   `yaml:"name" json:"name"`
	Aliases     []string `yaml:"aliases" json:"aliases"`
	Description string   `yaml:"description" json:"description"`
	Link        string   `yaml:"link" json:"link"`
	Image       string   `yaml:"image" json:"image,omitempty"`
}

// Catalog is an ordered product list. Order matters: matching returns the first hit.
type Catalog struct {
	Store    string    `yaml:"store"`
	Products []Product `yaml:"products"`

	imageDir string
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(c.Products) == 0 {
		return nil, ErrEmptyCatalog
	}
	for i, p := range c.Products {
		if p.Name == "" {
			return nil, fmt.Errorf("catalog product %d has no name", i)
		}
	}
	return &c, nil
}

// Load reads the catalog at path, or the embedded one when path is empty.
// Relative image paths resolve against imageDir, or the catalog file's
// directory when imageDir is empty.
func Load(path, imageDir string) (*Catalog, error) {
	var (
		c   *Catalog
		err error
	)
	if path == "" {
		c, err = Default()
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
		}
		c, err = Parse(data)
		if imageDir == "" {
			imageDir = filepath.Dir(path)
		}
	}
	if err != nil {
		return nil, err
	}
	c.imageDir = imageDir
	slog.Debug("catalog loaded", "path", path, "products", len(c.Products), "image_dir", imageDir)
	return c, nil
}

// Names returns the product names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.Products))
	for i, p := range c.Products {
		names[i] = p.Name
	}
	return names
}

// Pick returns n distinct products in random order, or every product when the
// catalog has fewer than n.
func (c *Catalog) Pick(n int) []Product {
	if n > len(c.Products) {
		n = len(c.Products)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Product, 0, n)
	for _, i := range rand.Perm(len(c.Products))[:n] {
		out = append(out, c.Products[i])
	}
	return out
}

// ImagePath resolves the image file of p, or "" when the product has none.
func (c *Catalog) ImagePath(p Product) string {
	if p.Image == "" {
		return ""
	}
	if filepath.IsAbs(p.Image) || c.imageDir == "" {
		return p.Image
	}
	return filepath.Join(c.imageDir, p.Image)
}
