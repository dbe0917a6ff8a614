package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kalambet/shopassist/internal/catalog"
	"github.com/kalambet/shopassist/internal/intent"
)

// --- Fakes ---

type fakeCatalog struct {
	mu sync.Mutex

	byCategory  map[int64][]catalog.Product
	byKeyword   map[string][]catalog.Product
	bestSellers []catalog.Product
	failKeyword map[string]bool

	searches      []string
	bestSellerHit int
}

func (f *fakeCatalog) ProductsByCategory(_ context.Context, id int64) ([]catalog.Product, error) {
	return f.byCategory[id], nil
}

func (f *fakeCatalog) SearchProducts(_ context.Context, keyword string) ([]catalog.Product, error) {
	f.mu.Lock()
	f.searches = append(f.searches, keyword)
	f.mu.Unlock()
	if f.failKeyword[keyword] {
		return nil, errors.New("search failed")
	}
	return f.byKeyword[keyword], nil
}

func (f *fakeCatalog) BestSellers(_ context.Context) ([]catalog.Product, error) {
	f.mu.Lock()
	f.bestSellerHit++
	f.mu.Unlock()
	return f.bestSellers, nil
}

type fixedKeywords []string

func (k fixedKeywords) Keywords(context.Context, string) []string { return k }

func stocked(id int64, size, color string, qty int) catalog.Product {
	return catalog.Product{
		ID:     id,
		Name:   fmt.Sprintf("product %d", id),
		Active: true,
		Sizes: []catalog.Size{{Value: size, Variants: []catalog.Variant{
			{ColorName: color, Quantity: qty},
		}}},
	}
}

func ids(products []catalog.Product) []int64 {
	out := make([]int64, len(products))
	for i, p := range products {
		out[i] = p.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Tests ---

func TestResolve_SizeAndColorScenario(t *testing.T) {
	cat := &fakeCatalog{byKeyword: map[string][]catalog.Product{
		"cao": {
			stocked(1, "38", "đen", 4),
			stocked(2, "39", "trắng", 4),
			stocked(3, "39", "Đen", 2),
			stocked(4, "39", "đen", 0),
		},
	}}
	r := NewResolver(cat, fixedKeywords{"cao"})

	got := r.Resolve(context.Background(), nil, "", "giày cao size 39 màu đen", []string{"39"}, []string{"đen"})
	if want := []int64{3}; !equalIDs(ids(got), want) {
		t.Errorf("shortlist = %v, want %v", ids(got), want)
	}
}

func TestResolve_CurrentProductFirstRegardlessOfStock(t *testing.T) {
	current := stocked(9, "40", "nâu", 0)
	cat := &fakeCatalog{byKeyword: map[string][]catalog.Product{
		"sneaker": {stocked(9, "40", "nâu", 0), stocked(1, "40", "đen", 1)},
	}}
	r := NewResolver(cat, fixedKeywords{"sneaker"})

	got := r.Resolve(context.Background(), &current, "", "sneaker", []string{"41"}, nil)
	if want := []int64{9}; !equalIDs(ids(got), want) {
		t.Errorf("shortlist = %v, want %v", ids(got), want)
	}
}

func TestResolve_BoundedAndUnique(t *testing.T) {
	cat := &fakeCatalog{
		byCategory: map[int64][]catalog.Product{
			5: {stocked(1, "38", "đen", 1), stocked(2, "38", "đen", 1)},
		},
		byKeyword: map[string][]catalog.Product{
			"boot": {stocked(2, "38", "đen", 1), stocked(3, "38", "đen", 1), stocked(4, "38", "đen", 1)},
		},
	}
	r := NewResolver(cat, fixedKeywords{"boot"})

	got := r.Resolve(context.Background(), nil, "/by-category/5", "boot", nil, nil)
	if want := []int64{1, 2, 3}; !equalIDs(ids(got), want) {
		t.Errorf("shortlist = %v, want %v", ids(got), want)
	}
}

func TestResolve_SourceOrderIsDeterministic(t *testing.T) {
	cat := &fakeCatalog{byKeyword: map[string][]catalog.Product{
		"a": {stocked(10, "38", "đen", 1)},
		"b": {stocked(20, "38", "đen", 1)},
		"c": {stocked(30, "38", "đen", 1)},
		"d": {stocked(40, "38", "đen", 1)},
	}}
	r := NewResolver(cat, fixedKeywords{"d", "b", "a", "c"})

	for i := 0; i < 20; i++ {
		got := r.Resolve(context.Background(), nil, "", "x", nil, nil)
		if want := []int64{40, 20, 10}; !equalIDs(ids(got), want) {
			t.Fatalf("run %d: shortlist = %v, want %v", i, ids(got), want)
		}
	}
}

func TestResolve_PoolStopsAtLimit(t *testing.T) {
	var soldOut []catalog.Product
	for i := int64(1); i <= poolLimit; i++ {
		soldOut = append(soldOut, stocked(i, "38", "đen", 0))
	}
	cat := &fakeCatalog{
		byCategory:  map[int64][]catalog.Product{3: soldOut},
		byKeyword:   map[string][]catalog.Product{"boot": {stocked(100, "38", "đen", 5)}},
		bestSellers: []catalog.Product{stocked(200, "38", "đen", 5)},
	}
	r := NewResolver(cat, fixedKeywords{"boot"})

	got := r.Resolve(context.Background(), nil, "by-category/3", "boot", nil, nil)
	if len(got) != 0 {
		t.Errorf("shortlist = %v, want empty once the pool is full", ids(got))
	}
	if cat.bestSellerHit != 0 {
		t.Errorf("bestsellers read %d times, want 0 for a non-empty pool", cat.bestSellerHit)
	}
}

func TestResolve_BestSellerFallback(t *testing.T) {
	cat := &fakeCatalog{
		failKeyword: map[string]bool{"boot": true},
		bestSellers: []catalog.Product{stocked(7, "38", "đen", 0), stocked(8, "39", "kem", 2)},
	}
	r := NewResolver(cat, fixedKeywords{"boot"})

	got := r.Resolve(context.Background(), nil, "home", "boot", nil, nil)
	if want := []int64{8}; !equalIDs(ids(got), want) {
		t.Errorf("shortlist = %v, want %v", ids(got), want)
	}
	if cat.bestSellerHit != 1 {
		t.Errorf("bestsellers read %d times, want 1", cat.bestSellerHit)
	}
}

func TestResolve_NoKeywords(t *testing.T) {
	cat := &fakeCatalog{bestSellers: []catalog.Product{stocked(1, "38", "đen", 1)}}
	r := NewResolver(cat, fixedKeywords{})

	got := r.Resolve(context.Background(), nil, "", "", nil, nil)
	if want := []int64{1}; !equalIDs(ids(got), want) {
		t.Errorf("shortlist = %v, want %v", ids(got), want)
	}
	if len(cat.searches) != 0 {
		t.Errorf("searches = %v, want none", cat.searches)
	}
}

type countingKeywords struct{ calls int }

func (k *countingKeywords) Keywords(context.Context, string) []string {
	k.calls++
	return []string{"unused"}
}

func TestResolveIntent_UsesGivenKeywords(t *testing.T) {
	cat := &fakeCatalog{byKeyword: map[string][]catalog.Product{
		"sandal": {stocked(4, "39", "nâu", 2)},
	}}
	kw := &countingKeywords{}
	r := NewResolver(cat, kw)

	got := r.ResolveIntent(context.Background(), nil, "", intent.Intent{
		Sizes:    []string{"39"},
		Keywords: []string{"sandal"},
	})
	if want := []int64{4}; !equalIDs(ids(got), want) {
		t.Errorf("shortlist = %v, want %v", ids(got), want)
	}
	if kw.calls != 0 {
		t.Errorf("keyword extractor called %d times, want 0", kw.calls)
	}
	if len(cat.searches) != 1 || cat.searches[0] != "sandal" {
		t.Errorf("searches = %v, want [sandal]", cat.searches)
	}
}

func TestCategoryIDFromPage(t *testing.T) {
	tests := []struct {
		page   string
		wantID int64
		wantOK bool
	}{
		{"by-category/12", 12, true},
		{"/by-category/3?sort=price", 3, true},
		{"by-category/", 0, false},
		{"by-category/abc", 0, false},
		{"product-detail/5", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		id, ok := CategoryIDFromPage(tt.page)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("CategoryIDFromPage(%q) = (%d, %v), want (%d, %v)", tt.page, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestMatchesIntent(t *testing.T) {
	p := catalog.Product{Sizes: []catalog.Size{
		{Value: "39", Variants: []catalog.Variant{{ColorName: "Xanh Navy", Quantity: 1}, {ColorName: "đỏ", Quantity: 0}}},
		{Value: "40", Variants: []catalog.Variant{{ColorName: "đỏ", Quantity: 0}}},
	}}

	tests := []struct {
		name   string
		sizes  []string
		colors []string
		want   bool
	}{
		{"no intent", nil, nil, true},
		{"size available", []string{"39"}, nil, true},
		{"size sold out", []string{"40"}, nil, false},
		{"any size matches", []string{"41", "39"}, nil, true},
		{"color normalized", nil, []string{"xanh navy"}, true},
		{"color sold out", nil, []string{"đỏ"}, false},
		{"both satisfied", []string{"39"}, []string{"xanh navy"}, true},
		{"one side fails", []string{"39"}, []string{"đỏ"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesIntent(p, tt.sizes, tt.colors); got != tt.want {
				t.Errorf("MatchesIntent(%v, %v) = %v, want %v", tt.sizes, tt.colors, got, tt.want)
			}
		})
	}
}

func TestMatchesIntent_EmptyProduct(t *testing.T) {
	if !MatchesIntent(catalog.Product{}, nil, nil) {
		t.Error("empty intent should match any product")
	}
	if MatchesIntent(catalog.Product{}, []string{"39"}, nil) {
		t.Error("product without sizes should not match a size request")
	}
}
