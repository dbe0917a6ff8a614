// Package catalog holds the read-only product views the recommendation
// engine works on and the stock aggregation over them.
package catalog

// Category is a product grouping such as "Giày Cao Gót".
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Color is a named color a product is offered in.
type Color struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// Variant is the stock of one color within one size.
type Variant struct {
	ID        int64  `json:"id"`
	ColorID   int64  `json:"colorId"`
	ColorName string `json:"colorName"`
	Quantity  int    `json:"quantity"`
}

// Size is a shoe size label with its per-color variants.
type Size struct {
	ID       int64     `json:"id"`
	Value    string    `json:"value"`
	Variants []Variant `json:"variants,omitempty"`
}

// Product is assembled from the flat catalog tables on read. Views carry no
// back-references: a Size does not know its Product.
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	Discount    int       `json:"discount"`
	Quantity    int       `json:"quantity"`
	Sold        int       `json:"sold"`
	Active      bool      `json:"active"`
	Description string    `json:"description,omitempty"`
	Category    *Category `json:"category,omitempty"`
	Sizes       []Size    `json:"sizes,omitempty"`
	Colors      []Color   `json:"colors,omitempty"`
}

// CategoryName returns the category name or "" when the product has none.
func (p Product) CategoryName() string {
	if p.Category == nil {
		return ""
	}
	return p.Category.Name
}

// Availability is the stock projection of a product.
type Availability struct {
	ProductID int64    `json:"productId"`
	Quantity  int      `json:"quantity"`
	Sizes     []string `json:"sizes"`
	Colors    []string `json:"colors"`
}
