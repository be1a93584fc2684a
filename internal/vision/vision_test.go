package vision

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/catalog"
)

var tieCatalog = []catalog.Product{
	{Name: "Shoe A", Aliases: []string{"a"}},
	{Name: "Shoe B", Aliases: []string{"a"}},
}

func TestMatch_FirstCatalogEntryWinsTies(t *testing.T) {
	p, ok := Match("I can see a sneaker", tieCatalog)
	if !ok || p.Name != "Shoe A" {
		t.Fatalf("expected Shoe A, got %v %v", p, ok)
	}
}

func TestMatch(t *testing.T) {
	products := []catalog.Product{
		{Name: "Vans UltraRange VR3", Aliases: []string{"vans", "vr3"}},
		{Name: "Air Jordan 4", Aliases: []string{"jordan", "aj4"}},
		{Name: "Nike Air Max Plus", Aliases: []string{"air max"}},
	}
	tests := []struct {
		name     string
		analysis string
		want     string
	}{
		{"marker with exact name", "MODEL_IDENTIFIED: Air Jordan 4\nWhite and green.", "Air Jordan 4"},
		{"marker with alias inside name", "MODEL_IDENTIFIED: Nike Jordan retro", "Air Jordan 4"},
		{"marker name on next line", "MODEL_IDENTIFIED:\n  Vans VR3 black", "Vans UltraRange VR3"},
		{"marker case-insensitive name", "MODEL_IDENTIFIED: AIR MAX PLUS", "Nike Air Max Plus"},
		{"marker unknown name has no fallback", "MODEL_IDENTIFIED: Puma Suede\nLooks a bit like a Jordan.", ""},
		{"marker with empty name", "MODEL_IDENTIFIED:", ""},
		{"no marker, alias in text", "This is clearly a pair of Vans.", "Vans UltraRange VR3"},
		{"no marker, name in text", "Looks like the air jordan 4 to me", "Air Jordan 4"},
		{"not identified marker falls back to scan", "MODEL_NOT_IDENTIFIED\nA running shoe similar to an air max.", "Nike Air Max Plus"},
		{"nothing matches", "MODEL_NOT_IDENTIFIED\nA leather boot.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Match(tt.analysis, products)
			if tt.want == "" {
				if ok {
					t.Errorf("expected no match, got %s", p.Name)
				}
				return
			}
			if !ok || p.Name != tt.want {
				t.Errorf("Match = %v %v, want %s", p, ok, tt.want)
			}
		})
	}
}

func TestMarkedModel(t *testing.T) {
	name, ok := MarkedModel("intro\nMODEL_IDENTIFIED:   Air Force 1  \nmore")
	if !ok || name != "Air Force 1" {
		t.Errorf("MarkedModel = %q %v", name, ok)
	}
	if _, ok := MarkedModel("no marker here"); ok {
		t.Error("expected no marker")
	}
}

type stubAnalyzer struct {
	answer      string
	err         error
	calls       int
	instruction string
	deadline    time.Duration
}

func (s *stubAnalyzer) AnalyzeImage(ctx context.Context, instruction string, image []byte, mimeType string) (string, error) {
	s.calls++
	s.instruction = instruction
	if dl, ok := ctx.Deadline(); ok {
		s.deadline = time.Until(dl)
	}
	return s.answer, s.err
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{Products: []catalog.Product{
		{Name: "Air Jordan 4", Aliases: []string{"jordan"}, Link: "https://example.test/aj4"},
		{Name: "New Balance 9060", Aliases: []string{"9060"}, Link: "https://example.test/nb"},
	}}
}

var validImage = bytes.Repeat([]byte{0xff}, MinImageBytes)

func TestIdentify_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		image   []byte
		stub    *stubAnalyzer
		want    Outcome
		product string
		calls   int
	}{
		{"too small image", []byte("tiny"), &stubAnalyzer{answer: "jordan"}, OutcomeInvalidImage, "", 0},
		{"empty image", nil, &stubAnalyzer{answer: "jordan"}, OutcomeInvalidImage, "", 0},
		{"classifier error", validImage, &stubAnalyzer{err: errors.New("timeout")}, OutcomeFailed, "", 1},
		{"blank answer", validImage, &stubAnalyzer{answer: "  \n"}, OutcomeNoAnalysis, "", 1},
		{"not found", validImage, &stubAnalyzer{answer: "MODEL_NOT_IDENTIFIED\nA boot."}, OutcomeNotFound, "", 1},
		{"matched", validImage, &stubAnalyzer{answer: "MODEL_IDENTIFIED: New Balance 9060"}, OutcomeMatched, "New Balance 9060", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := NewIdentifier(tt.stub, testCatalog())
			res := id.Identify(context.Background(), tt.image, "image/jpeg")
			if res.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", res.Outcome, tt.want)
			}
			if tt.product != "" && (res.Product == nil || res.Product.Name != tt.product) {
				t.Errorf("product = %v, want %s", res.Product, tt.product)
			}
			if tt.stub.calls != tt.calls {
				t.Errorf("classifier calls = %d, want %d", tt.stub.calls, tt.calls)
			}
		})
	}
}

func TestIdentify_BoundsClassifierCall(t *testing.T) {
	stub := &stubAnalyzer{answer: "jordan"}
	id := NewIdentifier(stub, testCatalog(), WithTimeout(2*time.Second))
	id.Identify(context.Background(), validImage, "")
	if stub.deadline <= 0 || stub.deadline > 2*time.Second {
		t.Errorf("expected a deadline within 2s, got %s", stub.deadline)
	}
}

func TestInstruction_ListsProductsAndMarkers(t *testing.T) {
	instr := NewIdentifier(&stubAnalyzer{}, testCatalog()).Instruction()
	for _, want := range []string{"- Air Jordan 4\n", "- New Balance 9060\n", IdentifiedMarker, NotIdentifiedMarker} {
		if !strings.Contains(instr, want) {
			t.Errorf("instruction missing %q", want)
		}
	}
}
