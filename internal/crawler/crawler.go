package crawler

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/model"
	"catalogsync/internal/platform/httpx"
	"catalogsync/internal/platform/logger"
)

type FetcherConfig struct {
	CollectionURL string // .../collections/<handle>/products.json
	PageSize      int
	Delay         time.Duration // politeness delay between page requests
}

// Fetcher walks a Shopify collection's products.json page by page.
type Fetcher struct {
	client *httpx.Client
	cfg    FetcherConfig
	log    *logger.Logger
}

func NewFetcher(client *httpx.Client, cfg FetcherConfig, log *logger.Logger) *Fetcher {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Fetcher{client: client, cfg: cfg, log: log}
}

// FetchPage returns the products of one page. An empty slice marks the end of the catalog.
func (f *Fetcher) FetchPage(ctx context.Context, page int) ([]model.RawCatalogEntry, error) {
	pageURL, err := f.pageURL(page)
	if err != nil {
		return nil, &apperr.FetchError{Page: page, URL: f.cfg.CollectionURL, Err: err}
	}

	var result catalogPage
	if err := f.client.GetJSON(ctx, pageURL, &result); err != nil {
		return nil, &apperr.FetchError{Page: page, URL: pageURL, Err: err}
	}
	return result.Products, nil
}

// All yields every product of the collection in page order, starting at page 1 on each call.
// It stops after the first empty page. A page that cannot be fetched yields a FetchError and
// ends the sequence; stopping the range early stops further page requests.
func (f *Fetcher) All(ctx context.Context) iter.Seq2[model.RawCatalogEntry, error] {
	return func(yield func(model.RawCatalogEntry, error) bool) {
		for page := 1; ; page++ {
			if page > 1 {
				if err := sleep(ctx, f.cfg.Delay); err != nil {
					yield(nil, &apperr.FetchError{Page: page, URL: f.cfg.CollectionURL, Err: err})
					return
				}
			}

			products, err := f.FetchPage(ctx, page)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(products) == 0 {
				f.log.Info("empty page, catalog exhausted", "page", page)
				return
			}
			f.log.Info("fetched page", "page", page, "products", len(products))

			for _, p := range products {
				if !yield(p, nil) {
					return
				}
			}
		}
	}
}

func (f *Fetcher) pageURL(page int) (string, error) {
	u, err := url.Parse(f.cfg.CollectionURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(f.cfg.PageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
