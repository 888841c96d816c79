// Package parser turns storefront markup into listings.
package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-shop-tracker/errs"
	"github.com/aluiziolira/go-shop-tracker/models"
)

const (
	SelectorCard           = ".shop-item-card"
	SelectorTitle          = "h4"
	SelectorDescription    = "div.shop-item-card__description > p"
	SelectorPrice          = "span.shop-item-card__price"
	SelectorImage          = "div.shop-item-card__image > img"
	SelectorSelectedRegion = "button.dropdown__button > span.dropdown__selected > span.dropdown__char-span"
	SelectorCSRFToken      = `meta[name="csrf-token"]`

	AttrID    = "data-shop-id"
	AttrImage = "src"
)

// IdentityFunc derives a stable image key from an image URL.
type IdentityFunc func(imageURL string) (string, error)

// Extractor parses item cards from a shop page.
type Extractor struct {
	// BaseURL resolves relative image sources. Optional.
	BaseURL *url.URL
	// Identity derives image keys. Defaults to BlobKey.
	Identity IdentityFunc
}

// Extract parses every item card on the page. Each listing carries the
// single price shown for region.
func (e *Extractor) Extract(markup string, region models.Region) ([]models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse shop page for %s: %w", region.Code(), err)
	}

	identity := e.Identity
	if identity == nil {
		identity = BlobKey
	}

	var listings []models.Listing
	var firstErr error
	doc.Find(SelectorCard).EachWithBreak(func(i int, card *goquery.Selection) bool {
		listing, err := e.parseCard(card, identity)
		if err != nil {
			firstErr = err
			return false
		}
		listings = append(listings, listing)
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return listings, nil
}

func (e *Extractor) parseCard(card *goquery.Selection, identity IdentityFunc) (models.Listing, error) {
	title, err := selectOne(card, SelectorTitle)
	if err != nil {
		return models.Listing{}, err
	}
	description, err := selectOne(card, SelectorDescription)
	if err != nil {
		return models.Listing{}, err
	}
	priceNode, err := selectOne(card, SelectorPrice)
	if err != nil {
		return models.Listing{}, err
	}
	price, err := ParsePrice(priceNode.Text())
	if err != nil {
		return models.Listing{}, err
	}

	img, err := selectOne(card, SelectorImage)
	if err != nil {
		return models.Listing{}, err
	}
	src, ok := img.Attr(AttrImage)
	if !ok || strings.TrimSpace(src) == "" {
		return models.Listing{}, &errs.ExtractionError{Kind: errs.MissingField, Selector: SelectorImage + "[" + AttrImage + "]"}
	}
	imageURL, err := e.absolute(src)
	if err != nil {
		return models.Listing{}, &errs.ExtractionError{Kind: errs.InvalidValue, Selector: SelectorImage + "[" + AttrImage + "]", Err: err}
	}
	key, err := identity(imageURL)
	if err != nil {
		return models.Listing{}, &errs.ExtractionError{Kind: errs.InvalidValue, Selector: SelectorImage + "[" + AttrImage + "]", Detail: "image identity", Err: err}
	}

	rawID, ok := card.Attr(AttrID)
	if !ok {
		return models.Listing{}, &errs.ExtractionError{Kind: errs.MissingField, Selector: SelectorCard + "[" + AttrID + "]"}
	}
	id, err := strconv.ParseUint(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return models.Listing{}, &errs.ExtractionError{Kind: errs.InvalidValue, Selector: SelectorCard + "[" + AttrID + "]", Err: err}
	}

	return models.Listing{
		ID:          id,
		Title:       strings.TrimSpace(title.Text()),
		Description: strings.TrimSpace(description.Text()),
		ImageURL:    imageURL,
		ImageKey:    key,
		Price:       price,
	}, nil
}

func (e *Extractor) absolute(src string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return "", err
	}
	if e.BaseURL != nil {
		parsed = e.BaseURL.ResolveReference(parsed)
	}
	if !parsed.IsAbs() {
		return "", fmt.Errorf("image source %q is not absolute", src)
	}
	return parsed.String(), nil
}

// ParsePrice keeps only the digits of a price label.
func ParsePrice(text string) (uint64, error) {
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, &errs.ExtractionError{Kind: errs.InvalidPrice, Selector: SelectorPrice, Detail: fmt.Sprintf("no digits in %q", strings.TrimSpace(text))}
	}
	price, err := strconv.ParseUint(digits.String(), 10, 64)
	if err != nil {
		return 0, &errs.ExtractionError{Kind: errs.InvalidPrice, Selector: SelectorPrice, Err: err}
	}
	return price, nil
}

// CSRFToken returns the page's CSRF token.
func CSRFToken(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse shop page: %w", err)
	}
	token, ok := doc.Find(SelectorCSRFToken).First().Attr("content")
	if !ok || token == "" {
		return "", &errs.ExtractionError{Kind: errs.MissingField, Selector: SelectorCSRFToken}
	}
	return token, nil
}

// SelectedRegion returns the region label the page says is active.
func SelectedRegion(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse shop page: %w", err)
	}
	node, err := selectOne(doc.Selection, SelectorSelectedRegion)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(node.Text()), nil
}

func selectOne(s *goquery.Selection, selector string) (*goquery.Selection, error) {
	found := s.Find(selector)
	if found.Length() == 0 {
		return nil, &errs.ExtractionError{Kind: errs.MissingField, Selector: selector}
	}
	return found.First(), nil
}
