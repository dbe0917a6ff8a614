// Package retrieval builds the product shortlist a chat turn is grounded on.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/shopassist/internal/catalog"
	"github.com/kalambet/shopassist/internal/intent"
)

const (
	// MaxSuggestions bounds the shortlist handed to the prompt.
	MaxSuggestions = 3
	// poolLimit stops gathering candidates once this many are collected.
	poolLimit  = 30
	fetchLimit = 4
)

var categoryPagePattern = regexp.MustCompile(`by-category/(\d+)`)

// CatalogReader defines the catalog queries the Resolver needs.
// Implemented by storage.Store.
type CatalogReader interface {
	ProductsByCategory(ctx context.Context, categoryID int64) ([]catalog.Product, error)
	SearchProducts(ctx context.Context, keyword string) ([]catalog.Product, error)
	BestSellers(ctx context.Context) ([]catalog.Product, error)
}

// KeywordExtractor turns a message into search keywords.
type KeywordExtractor interface {
	Keywords(ctx context.Context, message string) []string
}

// Resolver gathers candidate products from the page, the message keywords
// and the bestseller list, then filters them down to a short list.
type Resolver struct {
	catalog  CatalogReader
	keywords KeywordExtractor
}

// NewResolver creates a Resolver reading from c and extracting keywords
// with k.
func NewResolver(c CatalogReader, k KeywordExtractor) *Resolver {
	return &Resolver{catalog: c, keywords: k}
}

// Resolve returns at most MaxSuggestions distinct products. The product the
// customer is viewing always comes first; every other entry is in stock and
// satisfies the requested sizes and colors. Catalog read failures degrade to
// fewer candidates and are never returned.
func (r *Resolver) Resolve(ctx context.Context, current *catalog.Product, page, message string, sizes, colors []string) []catalog.Product {
	var keywords []string
	if r.keywords != nil {
		keywords = r.keywords.Keywords(ctx, message)
	}
	return r.ResolveIntent(ctx, current, page, intent.Intent{Sizes: sizes, Colors: colors, Keywords: keywords})
}

// ResolveIntent is Resolve for an intent whose keywords are already
// extracted.
func (r *Resolver) ResolveIntent(ctx context.Context, current *catalog.Product, page string, in intent.Intent) []catalog.Product {
	shortlist := make([]catalog.Product, 0, MaxSuggestions)
	seen := make(map[int64]struct{})
	if current != nil {
		shortlist = append(shortlist, *current)
		seen[current.ID] = struct{}{}
	}

	pool := r.candidates(ctx, page, in.Keywords)
	if len(pool) == 0 {
		best, err := r.catalog.BestSellers(ctx)
		if err != nil {
			slog.Warn("resolver: loading bestsellers failed", "error", err)
		}
		pool = best
	}

	for _, p := range pool {
		if len(shortlist) >= MaxSuggestions {
			break
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		if catalog.AvailableQuantity(p) <= 0 {
			continue
		}
		if !MatchesIntent(p, in.Sizes, in.Colors) {
			continue
		}
		seen[p.ID] = struct{}{}
		shortlist = append(shortlist, p)
	}
	return shortlist
}

// source is one catalog read feeding the candidate pool.
type source struct {
	name  string
	fetch func(ctx context.Context) ([]catalog.Product, error)
}

// candidates runs the category and keyword reads concurrently and
// concatenates their results in source order.
func (r *Resolver) candidates(ctx context.Context, page string, keywords []string) []catalog.Product {
	var sources []source
	if id, ok := CategoryIDFromPage(page); ok {
		sources = append(sources, source{
			name: fmt.Sprintf("category %d", id),
			fetch: func(ctx context.Context) ([]catalog.Product, error) {
				return r.catalog.ProductsByCategory(ctx, id)
			},
		})
	}
	for _, kw := range keywords {
		sources = append(sources, source{
			name: "keyword " + strconv.Quote(kw),
			fetch: func(ctx context.Context) ([]catalog.Product, error) {
				return r.catalog.SearchProducts(ctx, kw)
			},
		})
	}
	if len(sources) == 0 {
		return nil
	}

	results := make([][]catalog.Product, len(sources))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, src := range sources {
		g.Go(func() error {
			products, err := src.fetch(gCtx)
			if err != nil {
				slog.Warn("resolver: candidate source failed", "source", src.name, "error", err)
				return nil
			}
			results[i] = products
			return nil
		})
	}
	_ = g.Wait()

	var pool []catalog.Product
	for _, products := range results {
		pool = append(pool, products...)
		if len(pool) >= poolLimit {
			break
		}
	}
	return pool
}

// CategoryIDFromPage extracts the category id from a route such as
// "/by-category/12".
func CategoryIDFromPage(page string) (int64, bool) {
	m := categoryPagePattern.FindStringSubmatch(page)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// MatchesIntent reports whether p offers one of the requested sizes and one
// of the requested colors. An empty request set matches anything.
func MatchesIntent(p catalog.Product, sizes, colors []string) bool {
	if len(sizes) == 0 && len(colors) == 0 {
		return true
	}
	return anyMatch(sizes, catalog.AvailableSizes(p)) && anyMatch(colors, catalog.AvailableColors(p))
}

func anyMatch(requested, available []string) bool {
	if len(requested) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(available))
	for _, a := range available {
		have[intent.Normalize(a)] = struct{}{}
	}
	for _, r := range requested {
		if _, ok := have[intent.Normalize(r)]; ok {
			return true
		}
	}
	return false
}
