package notify

import (
	"strings"
	"testing"

	"github.com/aluiziolira/go-shop-tracker/diff"
	"github.com/aluiziolira/go-shop-tracker/models"
)

func allRegions(price uint64) map[models.Region]uint64 {
	out := make(map[models.Region]uint64)
	for _, r := range models.Regions() {
		out[r] = price
	}
	return out
}

func TestFormatPrices(t *testing.T) {
	mixed := allRegions(10)
	mixed[models.India] = 7

	tests := []struct {
		name   string
		prices map[models.Region]uint64
		want   string
	}{
		{"single region", map[models.Region]uint64{models.Canada: 12}, "12 (Canada)"},
		{"uniform across all regions", allRegions(25), "25 (Rest of World)"},
		{"two regions same price", map[models.Region]uint64{models.Europe: 5, models.UnitedStates: 5}, "United States 5, EU 5"},
		{"region order", map[models.Region]uint64{models.RestOfWorld: 1, models.UnitedKingdom: 2, models.UnitedStates: 3}, "United States 3, United Kingdom 2, Rest of World 1"},
		{"all regions, one differs", mixed, "United States 10, EU 10, United Kingdom 10, India 7, Canada 10, Australia 10, Rest of World 10"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatPrices(tt.prices); got != tt.want {
				t.Fatalf("FormatPrices = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEscapeMarkdown(t *testing.T) {
	got := EscapeMarkdown("snake_case *bold* ~strike~ `code` plain")
	want := "snake\\_case \\*bold\\* \\~strike\\~ \\`code\\` plain"
	if got != want {
		t.Fatalf("EscapeMarkdown = %q, want %q", got, want)
	}
}

func TestBuyLink(t *testing.T) {
	for _, base := range []string{"https://shop.example.test", "https://shop.example.test/"} {
		if got := BuyLink(base, 17); got != "https://shop.example.test/shop/order?shop_item_id=17" {
			t.Fatalf("BuyLink(%q) = %q", base, got)
		}
	}
}

func TestRenderLayout(t *testing.T) {
	added := models.Item{ID: 1, Title: "Sticker", Description: "very_shiny", ImageURL: "https://cdn.example.test/1.png", Prices: map[models.Region]uint64{models.UnitedStates: 5}}
	removed := models.Item{ID: 3, Title: "Mug", ImageURL: "https://cdn.example.test/3.png", Prices: allRegions(40)}
	old := models.Item{ID: 2, Title: "Hoodie", ImageURL: "https://cdn.example.test/2a.png", Prices: map[models.Region]uint64{models.UnitedStates: 100}}
	cur := models.Item{ID: 2, Title: "Hoodie v2", Description: "warm", ImageURL: "https://cdn.example.test/2b.png", Prices: map[models.Region]uint64{models.UnitedStates: 90}}

	d := diff.Diff{
		Added:   []models.Item{added},
		Removed: []models.Item{removed},
		Changed: []diff.Change{{Old: old, New: cur}},
	}
	msg := Render(d, Options{BaseURL: "https://shop.example.test/"})

	if msg.Text != "Shop update: 1 new, 1 updated, 1 removed" {
		t.Fatalf("text = %q", msg.Text)
	}

	var types []string
	for _, b := range msg.Blocks {
		types = append(types, b.Type)
	}
	want := "header section image divider header section image image divider header image context"
	if got := strings.Join(types, " "); got != want {
		t.Fatalf("block layout:\n got %s\nwant %s", got, want)
	}

	if got := msg.Blocks[0].Text.Text; got != ":new: Sticker (:shells: 5 (United States))" {
		t.Fatalf("new header = %q", got)
	}
	newBody := msg.Blocks[1].Text.Text
	if !strings.HasPrefix(newBody, "_very\\_shiny_\n") || !strings.Contains(newBody, "<https://shop.example.test/shop/order?shop_item_id=1|") {
		t.Fatalf("new section = %q", newBody)
	}

	if got := msg.Blocks[4].Text.Text; got != "Hoodie → Hoodie v2 (:shells: 100 (United States) → 90 (United States))" {
		t.Fatalf("updated header = %q", got)
	}
	if got := msg.Blocks[5].Text.Text; !strings.HasPrefix(got, "_no description_ → warm\n") {
		t.Fatalf("updated section = %q", got)
	}
	if msg.Blocks[6].ImageURL != old.ImageURL || msg.Blocks[7].ImageURL != cur.ImageURL {
		t.Fatalf("updated images = %q, %q", msg.Blocks[6].ImageURL, msg.Blocks[7].ImageURL)
	}

	if got := msg.Blocks[9].Text.Text; got != ":win10-trash: Mug (:shells: 40 (Rest of World))" {
		t.Fatalf("removed header = %q", got)
	}
	if got := msg.Blocks[len(msg.Blocks)-1].Elements[0].Text; got != DefaultFooter {
		t.Fatalf("footer = %q", got)
	}
}

func TestRenderUpdatedKeepsUnchangedParts(t *testing.T) {
	old := models.Item{ID: 2, Title: "Hoodie", Description: "warm", ImageURL: "https://cdn.example.test/2.png", Prices: map[models.Region]uint64{models.UnitedStates: 100}}
	cur := old.Clone()
	cur.Prices[models.Europe] = 95

	msg := Render(diff.Diff{Changed: []diff.Change{{Old: old, New: cur}}}, Options{BaseURL: "https://shop.example.test", Footer: "bye"})
	if len(msg.Blocks) != 4 {
		t.Fatalf("blocks = %d, want header, section, image, context", len(msg.Blocks))
	}
	if got := msg.Blocks[0].Text.Text; got != "Hoodie (:shells: 100 (United States) → United States 100, EU 95)" {
		t.Fatalf("header = %q", got)
	}
	if got := msg.Blocks[1].Text.Text; !strings.HasPrefix(got, "_warm_\n*Stock:* Unlimited") {
		t.Fatalf("section = %q", got)
	}
	if msg.Blocks[3].Elements[0].Text != "bye" {
		t.Fatalf("footer = %+v", msg.Blocks[3])
	}
}
