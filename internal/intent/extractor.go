package intent

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/shopassist/internal/catalog"
)

const (
	maxKeywords    = 4
	minKeywordLen  = 3
	minShoeSize    = 34
	maxShoeSize    = 50
	shoeSizeDigits = 2
)

// colorVocabulary is matched by substring against the normalized message, in
// this order: black, brown, white, gray, blue, red, cream, beige, yellow, pink,
// nude, silver, orange, purple, navy blue, sky blue, green.
var colorVocabulary = []string{
	"đen", "nâu", "trắng", "xám", "xanh", "đỏ", "kem", "be", "vàng",
	"hồng", "nude", "bạc", "cam", "tím", "xanh navy", "xanh dương", "xanh lá",
}

var stopWords = map[string]struct{}{
	"toi": {}, "tôi": {}, "muon": {}, "muốn": {}, "can": {}, "cần": {},
	"tu": {}, "tư": {}, "van": {}, "vấn": {}, "mau": {}, "màu": {},
	"size": {}, "kich": {}, "kích": {}, "co": {}, "có": {}, "cho": {},
	"la": {}, "là": {}, "va": {}, "và": {}, "voi": {}, "với": {},
	"mot": {}, "một": {}, "nhung": {}, "những": {}, "dang": {}, "đang": {},
	"ban": {}, "bán": {}, "hang": {}, "hàng": {}, "shop": {}, "cua": {},
	"cửa": {}, "giay": {}, "giày": {}, "dep": {}, "đẹp": {},
}

// CategoryLister is the catalog read the keyword pass needs.
// Implemented by storage.Store.
type CategoryLister interface {
	Categories(ctx context.Context) ([]catalog.Category, error)
}

// Intent holds what a single customer message asks for.
type Intent struct {
	Sizes    []string `json:"sizes"`
	Colors   []string `json:"colors"`
	Keywords []string `json:"keywords"`
}

// IsEmpty reports whether no size or color was requested.
func (i Intent) IsEmpty() bool {
	return len(i.Sizes) == 0 && len(i.Colors) == 0
}

// Extractor derives sizes, colors and search keywords from free text. Sizes
// and colors come from fixed tables; keywords additionally consult the
// category list.
type Extractor struct {
	categories CategoryLister
}

// NewExtractor creates an Extractor that matches category names from the
// given lister.
func NewExtractor(categories CategoryLister) *Extractor {
	return &Extractor{categories: categories}
}

// Extract runs all three extractors over message.
func (e *Extractor) Extract(ctx context.Context, message string) Intent {
	return Intent{
		Sizes:    ExtractSizes(message),
		Colors:   ExtractColors(message),
		Keywords: e.Keywords(ctx, message),
	}
}

// ExtractSizes returns the shoe sizes (34 to 50) mentioned in message, in
// order of first appearance.
func ExtractSizes(message string) []string {
	normalized := Normalize(message)
	if normalized == "" {
		return []string{}
	}

	sizes := newOrderedSet()
	runes := []rune(normalized)
	for i := 0; i < len(runes); {
		if !isASCIIDigit(runes[i]) {
			i++
			continue
		}
		start := i
		for i < len(runes) && isASCIIDigit(runes[i]) {
			i++
		}
		if start > 0 && isWordRune(runes[start-1]) {
			continue
		}
		if i < len(runes) && isWordRune(runes[i]) {
			continue
		}
		if i-start != shoeSizeDigits {
			continue
		}
		n := int(runes[start]-'0')*10 + int(runes[start+1]-'0')
		if n < minShoeSize || n > maxShoeSize {
			continue
		}
		sizes.add(string(runes[start:i]))
	}
	return sizes.items
}

// ExtractColors returns the vocabulary colors contained in message, in
// vocabulary order.
func ExtractColors(message string) []string {
	normalized := Normalize(message)
	if normalized == "" {
		return []string{}
	}

	colors := newOrderedSet()
	for _, color := range colorVocabulary {
		if strings.Contains(normalized, color) {
			colors.add(color)
		}
	}
	return colors.items
}

// Keywords returns search keywords. Category names found in the message come
// first, spelled as in the catalog; message tokens that are long enough and
// not stopwords are then added while fewer than four keywords are held. An empty
// message returns before the category list is read.
func (e *Extractor) Keywords(ctx context.Context, message string) []string {
	normalized := Normalize(message)
	if normalized == "" {
		return []string{}
	}

	keywords := newOrderedSet()
	if e.categories != nil {
		categories, err := e.categories.Categories(ctx)
		if err != nil {
			slog.Warn("keyword extraction: listing categories failed", "error", err)
		}
		for _, c := range categories {
			name := Normalize(c.Name)
			if name != "" && strings.Contains(normalized, name) {
				keywords.add(c.Name)
			}
		}
	}

	for _, token := range strings.Split(normalized, " ") {
		if len(keywords.items) >= maxKeywords {
			break
		}
		if utf8.RuneCountInString(token) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		keywords.add(token)
	}
	return keywords.items
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// orderedSet keeps insertion order and drops duplicates.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), items: []string{}}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
