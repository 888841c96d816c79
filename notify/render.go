// Package notify renders shop diffs as chat blocks and delivers them.
package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-shop-tracker/diff"
	"github.com/aluiziolira/go-shop-tracker/models"
)

const (
	emojiShells  = ":shells:"
	emojiTrolley = ":tw_shopping_trolley:"
	emojiNew     = ":new:"
	emojiTrash   = ":win10-trash:"

	noDescription = "_no description_"
)

// DefaultFooter closes every message.
const DefaultFooter = "pinging <!channel>"

// Text is a plain_text or mrkdwn text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Block is one layout block of a message.
type Block struct {
	Type     string `json:"type"`
	Text     *Text  `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AltText  string `json:"alt_text,omitempty"`
	Elements []Text `json:"elements,omitempty"`
}

// Message is the webhook payload.
type Message struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// Options controls links and the closing context line.
type Options struct {
	// BaseURL is the storefront root used for buy links.
	BaseURL string
	Footer  string
}

func header(text string) Block {
	return Block{Type: "header", Text: &Text{Type: "plain_text", Text: text}}
}

func section(markdown string) Block {
	return Block{Type: "section", Text: &Text{Type: "mrkdwn", Text: markdown}}
}

func image(url, alt string) Block {
	return Block{Type: "image", ImageURL: url, AltText: alt}
}

func divider() Block {
	return Block{Type: "divider"}
}

func contextBlock(markdown string) Block {
	return Block{Type: "context", Elements: []Text{{Type: "mrkdwn", Text: markdown}}}
}

// Summary is the fallback text of a message.
func Summary(d diff.Diff) string {
	return fmt.Sprintf("Shop update: %d new, %d updated, %d removed", len(d.Added), len(d.Changed), len(d.Removed))
}

// Render lays out new, updated and removed items in that order, separated
// by dividers, followed by the footer.
func Render(d diff.Diff, opts Options) Message {
	var blocks []Block
	for _, item := range d.Added {
		blocks = append(blocks, renderNew(item, opts)...)
		blocks = append(blocks, divider())
	}
	for _, c := range d.Changed {
		blocks = append(blocks, renderUpdated(c.Old, c.New, opts)...)
		blocks = append(blocks, divider())
	}
	for _, item := range d.Removed {
		blocks = append(blocks, renderRemoved(item)...)
		blocks = append(blocks, divider())
	}
	if n := len(blocks); n > 0 && blocks[n-1].Type == "divider" {
		blocks = blocks[:n-1]
	}

	footer := opts.Footer
	if footer == "" {
		footer = DefaultFooter
	}
	blocks = append(blocks, contextBlock(footer))

	return Message{Text: Summary(d), Blocks: blocks}
}

func renderNew(item models.Item, opts Options) []Block {
	text := description(item.Description) + "*Stock:* Unlimited\n\n" + buyButton(BuyLink(opts.BaseURL, item.ID))
	return []Block{
		header(itemHeader(emojiNew, item)),
		section(text),
		image(item.ImageURL, "Image for "+item.Title),
	}
}

func renderRemoved(item models.Item) []Block {
	blocks := []Block{header(itemHeader(emojiTrash, item))}
	if item.Description != "" {
		blocks = append(blocks, section(description(item.Description)))
	}
	return append(blocks, image(item.ImageURL, "Image for "+item.Title))
}

func renderUpdated(old, cur models.Item, opts Options) []Block {
	title := cur.Title
	if old.Title != cur.Title {
		title = old.Title + " → " + cur.Title
	}

	price := FormatPrices(cur.Prices)
	if !models.PricesEqual(old.Prices, cur.Prices) {
		price = FormatPrices(old.Prices) + " → " + price
	}

	var desc string
	switch {
	case old.Description == "" && cur.Description == "":
	case old.Description == cur.Description:
		desc = description(cur.Description)
	default:
		desc = orPlaceholder(old.Description) + " → " + orPlaceholder(cur.Description) + "\n"
	}

	text := desc + "*Stock:* Unlimited\n\n" + buyButton(BuyLink(opts.BaseURL, cur.ID))
	blocks := []Block{
		header(fmt.Sprintf("%s (%s %s)", title, emojiShells, price)),
		section(text),
	}
	if old.ImageURL != cur.ImageURL {
		blocks = append(blocks, image(old.ImageURL, "Old image for "+cur.Title))
	}
	return append(blocks, image(cur.ImageURL, "New image for "+cur.Title))
}

func itemHeader(emoji string, item models.Item) string {
	return fmt.Sprintf("%s %s (%s %s)", emoji, item.Title, emojiShells, FormatPrices(item.Prices))
}

func description(desc string) string {
	if desc == "" {
		return ""
	}
	return "_" + EscapeMarkdown(desc) + "_\n"
}

func orPlaceholder(desc string) string {
	if desc == "" {
		return noDescription
	}
	return EscapeMarkdown(desc)
}

func buyButton(link string) string {
	return "<" + link + "|*" + emojiTrolley + " Buy*>"
}

// BuyLink returns the order page of an item.
func BuyLink(baseURL string, id uint64) string {
	return strings.TrimRight(baseURL, "/") + "/shop/order?shop_item_id=" + strconv.FormatUint(id, 10)
}

// FormatPrices renders a price map. A single region reads "N (Region)";
// a price shared by every region reads "N (Rest of World)"; anything else
// lists "Region N" pairs in region order.
func FormatPrices(prices map[models.Region]uint64) string {
	regions := models.Regions()
	var present []models.Region
	for _, r := range regions {
		if _, ok := prices[r]; ok {
			present = append(present, r)
		}
	}

	switch {
	case len(present) == 0:
		return ""
	case len(present) == 1:
		r := present[0]
		return fmt.Sprintf("%d (%s)", prices[r], r)
	case len(present) == len(regions) && uniform(prices):
		return fmt.Sprintf("%d (%s)", prices[regions[0]], models.RestOfWorld)
	}

	parts := make([]string, 0, len(present))
	for _, r := range present {
		parts = append(parts, fmt.Sprintf("%s %d", r, prices[r]))
	}
	return strings.Join(parts, ", ")
}

func uniform(prices map[models.Region]uint64) bool {
	first := true
	var want uint64
	for _, p := range prices {
		if first {
			want, first = p, false
			continue
		}
		if p != want {
			return false
		}
	}
	return true
}

// EscapeMarkdown backslash-escapes _ * ~ and backticks.
func EscapeMarkdown(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, c := range text {
		switch c {
		case '_', '*', '~', '`':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
