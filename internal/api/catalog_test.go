package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/shopassist/internal/catalog"
	"github.com/kalambet/shopassist/internal/storage"
)

const importBody = `{
	"categories": [{"id": 5, "name": "Sandal"}],
	"products": [{
		"id": 50, "name": "Sandal Đế Bệt", "price": 250000, "categoryId": 5, "sold": 3,
		"sizes": [
			{"value": "39", "variants": [{"colorName": "đen", "quantity": 2}]},
			{"value": "40", "variants": [{"colorName": "đen", "quantity": 0}, {"colorName": "nâu", "quantity": 3}]}
		]
	}]
}`

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestCatalogRoutes_NotMountedWithoutToken(t *testing.T) {
	handler, _ := setupHandler(t, "")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authReq("POST", "/api/catalog/import", importBody, ""))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCatalogRoutes_NoAuth(t *testing.T) {
	handler, _ := setupHandler(t, testToken)

	for _, token := range []string{"", "wrong-token"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authReq("POST", "/api/catalog/import", importBody, token))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: expected 401, got %d", token, w.Code)
		}
	}
}

func TestImportCatalog_ThenAvailability(t *testing.T) {
	handler, store := setupHandler(t, testToken)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authReq("POST", "/api/catalog/import", importBody, testToken))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var stats storage.ImportStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	wantStats := storage.ImportStats{Categories: 1, Colors: 1, Products: 1, Sizes: 2, Variants: 3}
	if diff := cmp.Diff(wantStats, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	p, err := store.GetProduct(t.Context(), 50)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !p.Active || p.CategoryName() != "Sandal" {
		t.Errorf("imported product = %+v", p)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authReq("GET", "/api/catalog/products/50/availability", "", testToken))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got catalog.Availability
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decoding availability: %v", err)
	}
	want := catalog.Availability{ProductID: 50, Quantity: 5, Sizes: []string{"39", "40"}, Colors: []string{"đen", "nâu"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("availability mismatch (-want +got):\n%s", diff)
	}
}

func TestImportCatalog_Validation(t *testing.T) {
	handler, _ := setupHandler(t, testToken)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"products": [`},
		{"no products", `{"products": []}`},
		{"missing name", `{"products": [{"id": 1, "price": 10}]}`},
		{"zero id", `{"products": [{"id": 0, "name": "A"}]}`},
		{"discount over 100", `{"products": [{"id": 1, "name": "A", "discount": 150}]}`},
		{"negative quantity", `{"products": [{"id": 1, "name": "A", "quantity": -1}]}`},
		{"anonymous color", `{"products": [{"id": 1, "name": "A", "colors": [{"code": "#000000"}]}]}`},
		{"bad color code", `{"products": [{"id": 1, "name": "A", "colors": [{"name": "đen", "code": "black"}]}]}`},
		{"blank size", `{"products": [{"id": 1, "name": "A", "sizes": [{"value": ""}]}]}`},
		{"category without name", `{"categories": [{"id": 2}], "products": [{"id": 1, "name": "A"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, authReq("POST", "/api/catalog/import", tt.body, testToken))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAvailability_Errors(t *testing.T) {
	handler, _ := setupHandler(t, testToken)

	tests := []struct {
		path string
		want int
	}{
		{"/api/catalog/products/999/availability", http.StatusNotFound},
		{"/api/catalog/products/abc/availability", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authReq("GET", tt.path, "", testToken))
		if w.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, w.Code)
		}
	}
}

func TestImportRequest_ToCatalog(t *testing.T) {
	inactive := false
	req := ImportRequest{
		Categories: []ImportCategory{{ID: 1, Name: "Giày Cao Gót"}},
		Products: []ImportProduct{
			{ID: 1, Name: "A", CategoryID: 1, Colors: []ImportColor{{ID: 3, Name: "đen"}}},
			{ID: 2, Name: "B", Active: &inactive, CategoryID: 9},
			{ID: 3, Name: "C"},
		},
	}

	categories, products := req.ToCatalog()

	if diff := cmp.Diff([]catalog.Category{{ID: 1, Name: "Giày Cao Gót"}}, categories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
	want := []catalog.Product{
		{ID: 1, Name: "A", Active: true, Category: &catalog.Category{ID: 1, Name: "Giày Cao Gót"}, Colors: []catalog.Color{{ID: 3, Name: "đen"}}},
		{ID: 2, Name: "B", Active: false, Category: &catalog.Category{ID: 9}},
		{ID: 3, Name: "C", Active: true},
	}
	if diff := cmp.Diff(want, products); diff != "" {
		t.Errorf("products mismatch (-want +got):\n%s", diff)
	}
}
