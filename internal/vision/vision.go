// Package vision identifies catalog products in customer photos.
//
// An external classifier describes the photo in free text; Match then maps that
// text onto the catalog.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/catalog"
)

const (
	// IdentifiedMarker precedes the model name when the classifier recognises a product.
	IdentifiedMarker = "MODEL_IDENTIFIED:"
	// NotIdentifiedMarker is emitted when the photo matches no listed product.
	NotIdentifiedMarker = "MODEL_NOT_IDENTIFIED"

	// MinImageBytes is the smallest payload treated as a real image.
	MinImageBytes = 75
	// DefaultTimeout bounds a single classifier call.
	DefaultTimeout = 30 * time.Second
)

// ErrImageTooSmall is reported for empty or truncated images.
var ErrImageTooSmall = errors.New("image is empty or too small")

// Analyzer describes an image in free text. *genai.Client satisfies it.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, instruction string, image []byte, mimeType string) (string, error)
}

// Outcome classifies an identification attempt.
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeNotFound
	OutcomeInvalidImage
	OutcomeNoAnalysis
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInvalidImage:
		return "invalid_image"
	case OutcomeNoAnalysis:
		return "no_analysis"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the outcome of Identify.
type Result struct {
	Outcome  Outcome
	Product  *catalog.Product
	Analysis string
	Err      error
}

// Option configures an Identifier.
type Option func(*Identifier)

// WithTimeout overrides the classifier timeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Identifier) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// Identifier runs the classifier and matches its answer against the catalog.
type Identifier struct {
	analyzer Analyzer
	catalog  *catalog.Catalog
	timeout  time.Duration
}

// NewIdentifier creates an Identifier.
func NewIdentifier(a Analyzer, c *catalog.Catalog, opts ...Option) *Identifier {
	id := &Identifier{analyzer: a, catalog: c, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(id)
	}
	return id
}

// Instruction is the classifier prompt, listing every product name.
func (i *Identifier) Instruction() string {
	var b strings.Builder
	b.WriteString("Detailed analysis of this sneaker photo:\n")
	b.WriteString("1. Describe the sneaker you see in detail (brand, model, colors, features).\n")
	b.WriteString("2. Decide whether it matches one of these models:\n")
	for _, name := range i.catalog.Names() {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteByte('\n')
	}
	b.WriteString("\nIf it is one of the listed models, start your answer with \"")
	b.WriteString(IdentifiedMarker)
	b.WriteString(" [exact model name]\".\n")
	b.WriteString("If it is not one of the listed models, start your answer with \"")
	b.WriteString(NotIdentifiedMarker)
	b.WriteString("\".\n\nGive a detailed description either way.")
	return b.String()
}

// Identify validates the image, asks the classifier about it and matches the answer.
// It never returns an error; failures are reported through Result.Outcome.
func (i *Identifier) Identify(ctx context.Context, image []byte, mimeType string) Result {
	if len(image) < MinImageBytes {
		slog.Warn("vision.Identify rejected image", "bytes", len(image))
		return Result{Outcome: OutcomeInvalidImage, Err: ErrImageTooSmall}
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	analysis, err := i.analyzer.AnalyzeImage(callCtx, i.Instruction(), image, mimeType)
	if err != nil {
		slog.Error("vision.Identify classifier failed", "error", err, "timeout", i.timeout)
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	analysis = strings.TrimSpace(analysis)
	if analysis == "" {
		slog.Warn("vision.Identify classifier returned no text")
		return Result{Outcome: OutcomeNoAnalysis}
	}

	p, ok := Match(analysis, i.catalog.Products)
	if !ok {
		slog.Info("vision.Identify no catalog match", "analysis_length", len(analysis))
		return Result{Outcome: OutcomeNotFound, Analysis: analysis}
	}
	slog.Info("vision.Identify matched product", "product", p.Name)
	return Result{Outcome: OutcomeMatched, Product: p, Analysis: analysis}
}

// Match maps classifier text onto products. When the marker is present only the
// name after it is considered: the first product whose name or any alias occurs in
// that name wins. Otherwise the whole text is scanned for the first product whose
// name or any alias occurs in it. Comparisons ignore case; catalog order breaks ties.
func Match(analysis string, products []catalog.Product) (*catalog.Product, bool) {
	if strings.Contains(analysis, IdentifiedMarker) {
		name, ok := MarkedModel(analysis)
		if !ok {
			return nil, false
		}
		return firstContained(strings.ToLower(name), products)
	}
	return firstContained(strings.ToLower(analysis), products)
}

// MarkedModel extracts the model name following the marker: whitespace after the
// marker is skipped (including line breaks) and the name runs to the end of its line.
func MarkedModel(analysis string) (string, bool) {
	idx := strings.Index(analysis, IdentifiedMarker)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(analysis[idx+len(IdentifiedMarker):], " \t\r\n\f\v")
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	name := strings.TrimSpace(rest)
	return name, name != ""
}

func firstContained(haystack string, products []catalog.Product) (*catalog.Product, bool) {
	for i := range products {
		p := &products[i]
		if p.Name != "" && strings.Contains(haystack, strings.ToLower(p.Name)) {
			return p, true
		}
		for _, alias := range p.Aliases {
			if alias != "" && strings.Contains(haystack, strings.ToLower(alias)) {
				return p, true
			}
		}
	}
	return nil, false
}
