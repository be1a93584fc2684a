package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if len(c.Products) != 13 {
		t.Errorf("expected 13 products, got %d", len(c.Products))
	}
	if c.Store == "" {
		t.Error("expected store name")
	}
	for _, p := range c.Products {
		if p.Link == "" || p.Description == "" || len(p.Aliases) == 0 {
			t.Errorf("incomplete product %+v", p)
		}
	}
	if c.Products[7].Aliases[1] != "9060" {
		t.Errorf("numeric alias should decode as a string, got %q", c.Products[7].Aliases[1])
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte("products: []")); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("expected ErrEmptyCatalog, got %v", err)
	}
	if _, err := Parse([]byte("products: [{aliases: [x]}]")); err == nil {
		t.Error("expected error for product without name")
	}
	if _, err := Parse([]byte("products: [unterminated")); err == nil {
		t.Error("expected YAML error")
	}
}

func TestLoad_FromFileResolvesImages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	doc := "store: Test\nproducts:\n  - name: Shoe A\n    aliases: [a]\n    image: a.png\n  - name: Shoe B\n    image: /abs/b.png\n  - name: Shoe C\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.ImagePath(c.Products[0]); got != filepath.Join(dir, "a.png") {
		t.Errorf("relative image = %q", got)
	}
	if got := c.ImagePath(c.Products[1]); got != "/abs/b.png" {
		t.Errorf("absolute image = %q", got)
	}
	if got := c.ImagePath(c.Products[2]); got != "" {
		t.Errorf("missing image = %q", got)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml"), ""); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPick_DistinctProducts(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		picked := c.Pick(3)
		if len(picked) != 3 {
			t.Fatalf("expected 3 products, got %d", len(picked))
		}
		seen := map[string]bool{}
		for _, p := range picked {
			if seen[p.Name] {
				t.Fatalf("duplicate product %s in %v", p.Name, picked)
			}
			seen[p.Name] = true
		}
	}
	small := &Catalog{Products: []Product{{Name: "only"}}}
	if got := small.Pick(3); len(got) != 1 {
		t.Errorf("expected whole catalog when smaller than n, got %d", len(got))
	}
	if got := small.Pick(0); got != nil {
		t.Errorf("expected nil for n=0, got %v", got)
	}
}
