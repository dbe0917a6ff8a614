package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/shopassist/internal/catalog"
	"github.com/kalambet/shopassist/internal/storage"
)

const maxImportBodySize = 10 << 20 // 10MB

// CatalogAdmin defines the catalog operations of the admin routes.
// Implemented by storage.Store.
type CatalogAdmin interface {
	ImportCatalog(ctx context.Context, categories []catalog.Category, products []catalog.Product) (storage.ImportStats, error)
	GetProduct(ctx context.Context, id int64) (catalog.Product, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ImportRequest is a full or partial catalog snapshot. Products reference
// categories by id; colors may be referenced by id or by name.
type ImportRequest struct {
	Categories []ImportCategory `json:"categories" validate:"dive"`
	Products   []ImportProduct  `json:"products" validate:"required,min=1,dive"`
}

type ImportCategory struct {
	ID   int64  `json:"id" validate:"gt=0"`
	Name string `json:"name" validate:"required"`
}

type ImportProduct struct {
	ID          int64         `json:"id" validate:"gt=0"`
	Name        string        `json:"name" validate:"required"`
	Price       float64       `json:"price" validate:"gte=0"`
	Discount    int           `json:"discount" validate:"gte=0,lte=100"`
	Quantity    int           `json:"quantity" validate:"gte=0"`
	Sold        int           `json:"sold" validate:"gte=0"`
	Active      *bool         `json:"active"`
	Description string        `json:"description"`
	CategoryID  int64         `json:"categoryId" validate:"gte=0"`
	Colors      []ImportColor `json:"colors" validate:"dive"`
	Sizes       []ImportSize  `json:"sizes" validate:"dive"`
}

type ImportColor struct {
	ID   int64  `json:"id" validate:"gte=0"`
	Name string `json:"name" validate:"required_without=ID"`
	Code string `json:"code" validate:"omitempty,hexcolor"`
}

type ImportSize struct {
	Value    string          `json:"value" validate:"required"`
	Variants []ImportVariant `json:"variants" validate:"dive"`
}

type ImportVariant struct {
	ColorID   int64  `json:"colorId" validate:"gte=0"`
	ColorName string `json:"colorName"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

// ToCatalog converts the request into catalog views. A product without an
// explicit active flag is active.
func (req ImportRequest) ToCatalog() ([]catalog.Category, []catalog.Product) {
	names := make(map[int64]string, len(req.Categories))
	categories := make([]catalog.Category, len(req.Categories))
	for i, c := range req.Categories {
		categories[i] = catalog.Category{ID: c.ID, Name: c.Name}
		names[c.ID] = c.Name
	}

	products := make([]catalog.Product, len(req.Products))
	for i, p := range req.Products {
		out := catalog.Product{
			ID:          p.ID,
			Name:        p.Name,
			Price:       p.Price,
			Discount:    p.Discount,
			Quantity:    p.Quantity,
			Sold:        p.Sold,
			Active:      p.Active == nil || *p.Active,
			Description: p.Description,
		}
		if p.CategoryID != 0 {
			out.Category = &catalog.Category{ID: p.CategoryID, Name: names[p.CategoryID]}
		}
		for _, c := range p.Colors {
			out.Colors = append(out.Colors, catalog.Color{ID: c.ID, Name: c.Name, Code: c.Code})
		}
		for _, s := range p.Sizes {
			size := catalog.Size{Value: s.Value}
			for _, v := range s.Variants {
				size.Variants = append(size.Variants, catalog.Variant{ColorID: v.ColorID, ColorName: v.ColorName, Quantity: v.Quantity})
			}
			out.Sizes = append(out.Sizes, size)
		}
		products[i] = out
	}
	return categories, products
}

func handleImportCatalog(store CatalogAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid catalog: %v", err)
			return
		}

		categories, products := req.ToCatalog()
		stats, err := store.ImportCatalog(r.Context(), categories, products)
		if err != nil {
			internalError(w, r, "catalog: import failed", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleAvailability(store CatalogAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid product id")
			return
		}

		p, err := store.GetProduct(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "product not found")
			return
		}
		if err != nil {
			internalError(w, r, "catalog: load product failed", err)
			return
		}
		writeJSON(w, http.StatusOK, catalog.ProjectAvailability(p))
	}
}
