package composer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/shopassist/internal/catalog"
)

const (
	defaultMaxVariantLines     = 8
	defaultMaxDescriptionRunes = 120
)

const persona = "Bạn là trợ lý tư vấn của cửa hàng giày Anvie. " +
	"Trả lời tiếng Việt, rõ ràng, ngắn gọn, thân thiện. " +
	"Nếu thiếu thông tin thì hỏi thêm. " +
	"Không bịa giá, chính sách, hoặc tồn kho nếu không có dữ liệu. "

var agentFocus = map[string]string{
	"shoes": "Bạn tập trung tư vấn kiểu giày, dịp sử dụng, phối đồ, chất liệu. ",
	"color": "Bạn tập trung tư vấn màu sắc, phối màu, tông da và trang phục. ",
	"size":  "Bạn tập trung tư vấn chọn size, form giày, hỏi chiều dài bàn chân và độ rộng. ",
	"guide": "Bạn tập trung hướng dẫn sử dụng website: tìm kiếm, xem chi tiết, chọn size/màu, " +
		"thêm vào giỏ, thanh toán, theo dõi đơn hàng, và danh sách yêu thích. ",
}

const generalistFocus = "Bạn trò chuyện tự nhiên nhưng vẫn ưu tiên hỗ trợ mua hàng. "

// pageLabels is checked in order; the first matching route prefix wins.
var pageLabels = []struct {
	prefix string
	label  string
}{
	{"home", "Trang chủ"},
	{"all-product", "Danh sách sản phẩm"},
	{"by-category", "Danh mục sản phẩm"},
	{"cart", "Giỏ hàng"},
	{"checkout", "Thanh toán"},
	{"profile", "Tài khoản"},
	{"favorites", "Yêu thích"},
	{"search", "Tìm kiếm"},
	{"product-detail", "Chi tiết sản phẩm"},
	{"contact", "Liên hệ"},
	{"about", "Giới thiệu"},
}

// Input is everything a system instruction is built from.
type Input struct {
	Agent     string
	Page      string
	Current   *catalog.Product
	Shortlist []catalog.Product
	Sizes     []string
	Colors    []string
}

// Composer renders the Vietnamese system instruction that grounds the model
// on the shortlisted products. Output is deterministic for a given Input.
type Composer struct {
	MaxVariantLines     int
	MaxDescriptionRunes int
}

// New creates a Composer with the default limits: eight per-variant stock
// lines for the viewed product and 120-rune catalog descriptions.
func New() *Composer {
	return &Composer{
		MaxVariantLines:     defaultMaxVariantLines,
		MaxDescriptionRunes: defaultMaxDescriptionRunes,
	}
}

// Build assembles the system instruction: persona and agent focus, page
// context, the viewed product, the shortlist (or a request to ask for more
// detail) and the requested sizes and colors.
func (c *Composer) Build(in Input) string {
	var sb strings.Builder

	sb.WriteString(persona)
	if focus, ok := agentFocus[strings.ToLower(in.Agent)]; ok {
		sb.WriteString(focus)
	} else {
		sb.WriteString(generalistFocus)
	}

	if label := PageLabel(in.Page); label != "" {
		fmt.Fprintf(&sb, "Ngữ cảnh trang hiện tại: %s. ", label)
	}

	if in.Current != nil {
		fmt.Fprintf(&sb, "Sản phẩm đang xem: %s. ", c.productContext(*in.Current))
	}

	if len(in.Shortlist) > 0 {
		fmt.Fprintf(&sb, "Danh sách sản phẩm hợp lệ để tư vấn (tối đa 3): %s. ", c.catalogContext(in.Shortlist))
		sb.WriteString("Chỉ trả lời dựa trên danh sách này, không bịa sản phẩm ngoài danh sách. ")
		sb.WriteString("Nếu sản phẩm hết hàng thì nói rõ và không khuyến nghị mua. ")
	} else {
		sb.WriteString("Hiện chưa có danh sách sản phẩm phù hợp từ dữ liệu, hãy hỏi thêm về nhu cầu, ")
		sb.WriteString("danh mục, màu sắc, hoặc kích cỡ. ")
	}

	if len(in.Sizes) > 0 || len(in.Colors) > 0 {
		sb.WriteString("Nhu cầu khách: ")
		if len(in.Sizes) > 0 {
			fmt.Fprintf(&sb, "size %s. ", strings.Join(in.Sizes, ", "))
		}
		if len(in.Colors) > 0 {
			fmt.Fprintf(&sb, "màu %s. ", strings.Join(in.Colors, ", "))
		}
		sb.WriteString("Chỉ xác nhận khi size/màu có trong dữ liệu. ")
	}

	return sb.String()
}

// PageLabel maps a storefront route to the page name shown to the model.
// Unknown routes are described as "Trang <route>"; a blank route yields "".
func PageLabel(route string) string {
	path := strings.TrimSpace(route)
	if path == "" {
		return ""
	}
	path = strings.TrimPrefix(path, "/")
	for _, p := range pageLabels {
		if strings.HasPrefix(path, p.prefix) {
			return p.label
		}
	}
	return "Trang " + route
}

func (c *Composer) productContext(p catalog.Product) string {
	parts := []string{
		"Tên: " + p.Name,
		"giá gốc: " + BasePrice(p),
		"giảm: " + DiscountLabel(p),
		"giá sau giảm: " + FinalPrice(p),
	}
	if p.Category != nil {
		parts = append(parts, "danh mục: "+p.Category.Name)
	}
	if qty := catalog.AvailableQuantity(p); qty > 0 {
		parts = append(parts, "tồn: "+strconv.Itoa(qty))
	} else {
		parts = append(parts, "tình trạng: hết hàng")
	}
	if sizes := catalog.AvailableSizes(p); len(sizes) > 0 {
		parts = append(parts, "size: "+strings.Join(sizes, ", "))
	}
	if colors := catalog.AvailableColors(p); len(colors) > 0 {
		parts = append(parts, "màu: "+strings.Join(colors, ", "))
	}
	if lines := c.variantLines(p); len(lines) > 0 {
		parts = append(parts, "tồn kho theo size/màu: "+strings.Join(lines, "; "))
	}
	return strings.Join(parts, ", ")
}

// variantLines lists in-stock size/color combinations, capped at
// MaxVariantLines.
func (c *Composer) variantLines(p catalog.Product) []string {
	var lines []string
	for _, s := range p.Sizes {
		for _, v := range s.Variants {
			if len(lines) >= c.MaxVariantLines {
				return lines
			}
			if v.ColorName == "" || v.Quantity <= 0 {
				continue
			}
			lines = append(lines, fmt.Sprintf("size %s - màu %s: %d", s.Value, v.ColorName, v.Quantity))
		}
	}
	return lines
}

func (c *Composer) catalogContext(products []catalog.Product) string {
	entries := make([]string, 0, len(products))
	for _, p := range products {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[#%d] %s", p.ID, p.Name)
		if name := p.CategoryName(); name != "" {
			sb.WriteString(" - " + name)
		}
		fmt.Fprintf(&sb, ", giá gốc: %s, giảm: %s, giá sau giảm: %s", BasePrice(p), DiscountLabel(p), FinalPrice(p))
		if qty := catalog.AvailableQuantity(p); qty > 0 {
			fmt.Fprintf(&sb, ", tồn: %d", qty)
		} else {
			sb.WriteString(", tình trạng: hết hàng")
		}
		if sizes := catalog.AvailableSizes(p); len(sizes) > 0 {
			sb.WriteString(", size: " + strings.Join(sizes, "/"))
		}
		if colors := catalog.AvailableColors(p); len(colors) > 0 {
			sb.WriteString(", màu: " + strings.Join(colors, "/"))
		}
		if desc := c.shortDescription(p.Description); desc != "" {
			sb.WriteString(", mô tả: " + desc)
		}
		entries = append(entries, sb.String())
	}
	return strings.Join(entries, ". ")
}

func (c *Composer) shortDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if utf8.RuneCountInString(desc) <= c.MaxDescriptionRunes {
		return desc
	}
	runes := []rune(desc)
	return strings.TrimSpace(string(runes[:c.MaxDescriptionRunes])) + "..."
}

// BasePrice renders the rounded list price, e.g. "450000 VND".
func BasePrice(p catalog.Product) string {
	return formatVND(p.Price)
}

// FinalPrice renders the rounded price after discount. Without a positive
// discount it equals BasePrice.
func FinalPrice(p catalog.Product) string {
	if p.Discount <= 0 {
		return formatVND(p.Price)
	}
	return formatVND(p.Price * (1 - float64(p.Discount)/100))
}

// DiscountLabel renders the discount percentage; non-positive values are "0%".
func DiscountLabel(p catalog.Product) string {
	if p.Discount <= 0 {
		return "0%"
	}
	return strconv.Itoa(p.Discount) + "%"
}

func formatVND(v float64) string {
	return strconv.FormatInt(int64(math.Round(v)), 10) + " VND"
}
