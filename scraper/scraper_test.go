package scraper

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-shop-tracker/config"
	"github.com/aluiziolira/go-shop-tracker/errs"
	"github.com/aluiziolira/go-shop-tracker/models"
)

const testBaseURL = "http://shop.example.test/"

type shopCard struct {
	id    uint64
	title string
	price uint64
}

// fakeShop imitates the storefront's region switch: PATCH stores the region
// and GET /shop renders the cards for it.
type fakeShop struct {
	mu       sync.Mutex
	token    string
	selected models.Region
	cards    map[models.Region][]shopCard
	ignore   map[models.Region]bool
	patches  []string
	cookies  []string
	patchErr int
}

func newFakeShop() *fakeShop {
	return &fakeShop{
		token: "csrf-abc",
		cards: make(map[models.Region][]shopCard),
	}
}

func imageSrc(id uint64) string {
	signed := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf(`{"_rails":{"data":%d,"pur":"blob_id"}}`, id)))
	return fmt.Sprintf("/rails/active_storage/blobs/redirect/%s--abc/item.png", signed)
}

func (f *fakeShop) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><head><meta name="csrf-token" content="%s"></head><body>`, f.token)
	fmt.Fprintf(&b, `<button class="dropdown__button"><span class="dropdown__selected"><span class="dropdown__char-span">%s</span></span></button>`, f.selected.String())
	for _, c := range f.cards[f.selected] {
		fmt.Fprintf(&b, `<div class="shop-item-card" data-shop-id="%d"><h4>%s</h4>`, c.id, c.title)
		fmt.Fprintf(&b, `<div class="shop-item-card__description"><p>about %s</p></div>`, c.title)
		fmt.Fprintf(&b, `<span class="shop-item-card__price">%d</span>`, c.price)
		fmt.Fprintf(&b, `<div class="shop-item-card__image"><img src="%s"></div></div>`, imageSrc(c.id))
	}
	b.WriteString("</body></html>")
	return b.String()
}

func (f *fakeShop) transport() *httpmock.MockTransport {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testBaseURL+"shop", func(req *http.Request) (*http.Response, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cookies = append(f.cookies, req.Header.Get("Cookie"))
		return httpmock.NewStringResponse(http.StatusOK, f.render()), nil
	})
	transport.RegisterResponder(http.MethodPatch, testBaseURL+"shop/update_region", func(req *http.Request) (*http.Response, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		code := req.PostForm.Get("region")
		f.patches = append(f.patches, code+"|"+req.Header.Get("X-CSRF-Token"))
		if f.patchErr != 0 {
			return httpmock.NewStringResponse(f.patchErr, ""), nil
		}
		region, err := models.ParseRegion(code)
		if err != nil {
			return httpmock.NewStringResponse(http.StatusUnprocessableEntity, ""), nil
		}
		if !f.ignore[region] {
			f.selected = region
		}
		return httpmock.NewStringResponse(http.StatusOK, ""), nil
	})
	return transport
}

func newTestScraper(t *testing.T, transport http.RoundTripper) *Scraper {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.Cookie = "_flavortown_session=secret"

	s, err := NewScraper(cfg, NewMetrics(), nil)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.fetcher.(*Session).collector.WithTransport(transport)
	return s
}

func TestScrapeAllRegions(t *testing.T) {
	shop := newFakeShop()
	for i, region := range models.Regions() {
		shop.cards[region] = append(shop.cards[region], shopCard{id: 1, title: "Sticker", price: uint64(10 + i)})
	}
	shop.cards[models.UnitedStates] = append(shop.cards[models.UnitedStates], shopCard{id: 2, title: "Hoodie", price: 300})
	shop.cards[models.Australia] = append(shop.cards[models.Australia], shopCard{id: 3, title: "Koala", price: 50})

	s := newTestScraper(t, shop.transport())
	items, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}

	if len(shop.patches) != len(models.Regions()) {
		t.Fatalf("patches=%d, want %d", len(shop.patches), len(models.Regions()))
	}
	for i, region := range models.Regions() {
		if want := region.Code() + "|csrf-abc"; shop.patches[i] != want {
			t.Fatalf("patch %d = %q, want %q", i, shop.patches[i], want)
		}
	}
	for _, cookie := range shop.cookies {
		if cookie != "_flavortown_session=secret" {
			t.Fatalf("cookie header = %q", cookie)
		}
	}

	if len(items) != 3 {
		t.Fatalf("items=%d, want 3", len(items))
	}
	if items[0].ID != 1 || items[1].ID != 2 || items[2].ID != 3 {
		t.Fatalf("items not sorted by id: %d %d %d", items[0].ID, items[1].ID, items[2].ID)
	}
	if len(items[0].Prices) != 7 || items[0].Prices[models.RestOfWorld] != 16 {
		t.Fatalf("item 1 prices = %v", items[0].Prices)
	}
	if len(items[1].Prices) != 1 || items[1].Prices[models.UnitedStates] != 300 {
		t.Fatalf("item 2 prices = %v", items[1].Prices)
	}
	if items[2].ImageKey != "blob:3" {
		t.Fatalf("item 3 image key = %q", items[2].ImageKey)
	}
	if !strings.HasPrefix(items[2].ImageURL, testBaseURL+"rails/") {
		t.Fatalf("item 3 image url = %q", items[2].ImageURL)
	}
}

func TestScrapeRegionMismatch(t *testing.T) {
	shop := newFakeShop()
	shop.ignore = map[models.Region]bool{models.Europe: true}
	shop.cards[models.UnitedStates] = []shopCard{{id: 1, title: "Sticker", price: 5}}

	s := newTestScraper(t, shop.transport())
	items, err := s.Scrape(context.Background())
	if items != nil {
		t.Fatalf("expected no items, got %d", len(items))
	}
	var mismatch *errs.RegionConsistencyError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected RegionConsistencyError, got %v", err)
	}
	if mismatch.Want != "EU" || mismatch.Got != "United States" {
		t.Fatalf("unexpected mismatch: %+v", mismatch)
	}
}

func TestSelectRegionFailure(t *testing.T) {
	shop := newFakeShop()
	shop.patchErr = http.StatusUnprocessableEntity

	s := newTestScraper(t, shop.transport())
	_, err := s.Scrape(context.Background())
	var transportErr *errs.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transportErr.StatusCode != http.StatusUnprocessableEntity || transportErr.Op != http.MethodPatch {
		t.Fatalf("unexpected transport error: %+v", transportErr)
	}
}

func TestFetchShopDoesNotFollowRedirect(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testBaseURL+"shop", func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusFound, "")
		resp.Header.Set("Location", testBaseURL+"login")
		return resp, nil
	})
	transport.RegisterResponder(http.MethodGet, testBaseURL+"login", httpmock.NewStringResponder(http.StatusOK, "login page"))

	s := newTestScraper(t, transport)
	_, err := s.fetcher.FetchShop(context.Background())
	var transportErr *errs.TransportError
	if !errors.As(err, &transportErr) || transportErr.StatusCode != http.StatusFound {
		t.Fatalf("expected 302 transport error, got %v", err)
	}
	if got := errs.Label(err); got != "transport" {
		t.Fatalf("label = %q, want transport", got)
	}
}

func TestFetchShopCanceled(t *testing.T) {
	s := newTestScraper(t, newFakeShop().transport())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.fetcher.FetchShop(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScrapeMissingPriceFailsExtraction(t *testing.T) {
	shop := newFakeShop()
	s := newTestScraper(t, shop.transport())
	s.fetcher = &brokenPriceFetcher{Fetcher: s.fetcher}

	_, err := s.Scrape(context.Background())
	var extraction *errs.ExtractionError
	if !errors.As(err, &extraction) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if extraction.Selector != "span.shop-item-card__price" {
		t.Fatalf("selector = %q", extraction.Selector)
	}
}

// brokenPriceFetcher serves a US page whose only card lacks a price.
type brokenPriceFetcher struct {
	Fetcher
	selected models.Region
}

func (b *brokenPriceFetcher) SelectRegion(ctx context.Context, region models.Region, token string) error {
	b.selected = region
	return nil
}

func (b *brokenPriceFetcher) FetchShop(ctx context.Context) (string, error) {
	return `<html><head><meta name="csrf-token" content="t"></head><body>
<button class="dropdown__button"><span class="dropdown__selected"><span class="dropdown__char-span">` + b.selected.String() + `</span></span></button>
<div class="shop-item-card" data-shop-id="1"><h4>Sticker</h4>
<div class="shop-item-card__description"><p>x</p></div>
<div class="shop-item-card__image"><img src="` + imageSrc(1) + `"></div></div>
</body></html>`, nil
}
