package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/shopassist/internal/catalog"
	"github.com/kalambet/shopassist/internal/intent"
)

const productColumns = `p.id, p.name, p.price, p.discount, p.quantity, p.sold, p.active, p.description, p.category_id, c.name`

const productFrom = ` FROM products p LEFT JOIN categories c ON c.id = p.category_id`

// searchLimit bounds a single keyword search.
const searchLimit = 30

// --- Catalog reads ---

// Categories returns every category ordered by id.
func (s *Store) Categories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cats := []catalog.Category{}
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// GetProduct returns the assembled product view, active or not.
func (s *Store) GetProduct(ctx context.Context, id int64) (catalog.Product, error) {
	products, err := s.queryProducts(ctx, ` WHERE p.id = ?`, id)
	if err != nil {
		return catalog.Product{}, err
	}
	if len(products) == 0 {
		return catalog.Product{}, ErrNotFound
	}
	return products[0], nil
}

// ProductsByCategory returns the active products of a category, best
// sellers first.
func (s *Store) ProductsByCategory(ctx context.Context, categoryID int64) ([]catalog.Product, error) {
	return s.queryProducts(ctx, ` WHERE p.category_id = ? AND p.active = 1 ORDER BY p.sold DESC, p.id ASC`, categoryID)
}

// SearchProducts returns active products whose normalized name, description
// or category name contains the normalized keyword.
func (s *Store) SearchProducts(ctx context.Context, keyword string) ([]catalog.Product, error) {
	kw := intent.Normalize(keyword)
	if kw == "" {
		return []catalog.Product{}, nil
	}
	return s.queryProducts(ctx,
		` WHERE p.active = 1 AND p.search_text LIKE ? ESCAPE '\' ORDER BY p.sold DESC, p.id ASC LIMIT ?`,
		"%"+escapeLike(kw)+"%", searchLimit)
}

// BestSellers returns all active products by units sold, ties by id.
func (s *Store) BestSellers(ctx context.Context) ([]catalog.Product, error) {
	return s.queryProducts(ctx, ` WHERE p.active = 1 ORDER BY p.sold DESC, p.id ASC`)
}

// queryProducts reads the product rows first and only then loads sizes,
// variants and colors: the single pooled connection cannot serve a second
// query while rows are open.
func (s *Store) queryProducts(ctx context.Context, clause string, args ...any) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+productFrom+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}

	products := []catalog.Product{}
	for rows.Next() {
		var p catalog.Product
		var categoryID sql.NullInt64
		var categoryName sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Discount, &p.Quantity, &p.Sold, &p.Active,
			&p.Description, &categoryID, &categoryName); err != nil {
			rows.Close()
			return nil, err
		}
		if categoryID.Valid {
			p.Category = &catalog.Category{ID: categoryID.Int64, Name: categoryName.String}
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(products) == 0 {
		return products, nil
	}
	if err := s.attachDetails(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) attachDetails(ctx context.Context, products []catalog.Product) error {
	index := make(map[int64]int, len(products))
	args := make([]any, len(products))
	for i, p := range products {
		index[p.ID] = i
		args[i] = p.ID
	}
	in := placeholders(len(args))

	sizeRows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, value FROM sizes WHERE product_id IN (`+in+`) ORDER BY product_id, position, id`, args...)
	if err != nil {
		return fmt.Errorf("querying sizes: %w", err)
	}
	type sizeRef struct{ product, pos int }
	sizeIndex := make(map[int64]sizeRef)
	for sizeRows.Next() {
		var sz catalog.Size
		var productID int64
		if err := sizeRows.Scan(&sz.ID, &productID, &sz.Value); err != nil {
			sizeRows.Close()
			return err
		}
		i := index[productID]
		sizeIndex[sz.ID] = sizeRef{product: i, pos: len(products[i].Sizes)}
		products[i].Sizes = append(products[i].Sizes, sz)
	}
	if err := sizeRows.Err(); err != nil {
		sizeRows.Close()
		return err
	}
	sizeRows.Close()

	variantRows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.size_id, v.color_id, COALESCE(c.name, ''), v.quantity
		FROM variants v
		JOIN sizes s ON s.id = v.size_id
		LEFT JOIN colors c ON c.id = v.color_id
		WHERE s.product_id IN (`+in+`)
		ORDER BY v.size_id, v.id`, args...)
	if err != nil {
		return fmt.Errorf("querying variants: %w", err)
	}
	for variantRows.Next() {
		var v catalog.Variant
		var sizeID int64
		var colorID sql.NullInt64
		if err := variantRows.Scan(&v.ID, &sizeID, &colorID, &v.ColorName, &v.Quantity); err != nil {
			variantRows.Close()
			return err
		}
		v.ColorID = colorID.Int64
		ref, ok := sizeIndex[sizeID]
		if !ok {
			continue
		}
		sz := &products[ref.product].Sizes[ref.pos]
		sz.Variants = append(sz.Variants, v)
	}
	if err := variantRows.Err(); err != nil {
		variantRows.Close()
		return err
	}
	variantRows.Close()

	colorRows, err := s.db.QueryContext(ctx, `
		SELECT pc.product_id, c.id, c.name, c.code
		FROM product_colors pc JOIN colors c ON c.id = pc.color_id
		WHERE pc.product_id IN (`+in+`)
		ORDER BY pc.product_id, pc.position`, args...)
	if err != nil {
		return fmt.Errorf("querying colors: %w", err)
	}
	defer colorRows.Close()
	for colorRows.Next() {
		var c catalog.Color
		var productID int64
		if err := colorRows.Scan(&productID, &c.ID, &c.Name, &c.Code); err != nil {
			return err
		}
		i := index[productID]
		products[i].Colors = append(products[i].Colors, c)
	}
	return colorRows.Err()
}

// --- Catalog import ---

// ImportCatalog upserts categories and products. A product's sizes, variants
// and color list are replaced wholesale. Products reference categories and
// colors by id; colors given only by name are matched by name or created.
func (s *Store) ImportCatalog(ctx context.Context, categories []catalog.Category, products []catalog.Product) (ImportStats, error) {
	var stats ImportStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback()

	seenCategories := make(map[int64]struct{})
	upsertCategory := func(c catalog.Category) error {
		if _, ok := seenCategories[c.ID]; ok {
			return nil
		}
		seenCategories[c.ID] = struct{}{}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (id, name) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE categories.name END`,
			c.ID, c.Name); err != nil {
			return fmt.Errorf("upserting category %d: %w", c.ID, err)
		}
		stats.Categories++
		return nil
	}

	for _, c := range categories {
		if err := upsertCategory(c); err != nil {
			return stats, err
		}
	}

	colors := &colorResolver{tx: tx, seen: make(map[int64]struct{}), stats: &stats}
	for _, p := range products {
		var categoryID sql.NullInt64
		if p.Category != nil {
			if err := upsertCategory(*p.Category); err != nil {
				return stats, err
			}
			categoryID = sql.NullInt64{Int64: p.Category.ID, Valid: true}
		}

		searchText := intent.Normalize(strings.Join([]string{p.Name, p.Description, p.CategoryName()}, " "))
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, price, discount, quantity, sold, active, description, category_id, search_text)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, price = excluded.price, discount = excluded.discount,
				quantity = excluded.quantity, sold = excluded.sold, active = excluded.active,
				description = excluded.description, category_id = excluded.category_id,
				search_text = excluded.search_text`,
			p.ID, p.Name, p.Price, p.Discount, p.Quantity, p.Sold, p.Active, p.Description, categoryID, searchText,
		); err != nil {
			return stats, fmt.Errorf("upserting product %d: %w", p.ID, err)
		}
		stats.Products++

		for _, stmt := range []string{
			`DELETE FROM variants WHERE size_id IN (SELECT id FROM sizes WHERE product_id = ?)`,
			`DELETE FROM sizes WHERE product_id = ?`,
			`DELETE FROM product_colors WHERE product_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, p.ID); err != nil {
				return stats, fmt.Errorf("clearing details of product %d: %w", p.ID, err)
			}
		}

		for pos, c := range p.Colors {
			colorID, err := colors.resolve(ctx, c.ID, c.Name, c.Code)
			if err != nil {
				return stats, err
			}
			if !colorID.Valid {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO product_colors (product_id, color_id, position) VALUES (?, ?, ?)`,
				p.ID, colorID.Int64, pos); err != nil {
				return stats, fmt.Errorf("linking color to product %d: %w", p.ID, err)
			}
		}

		for pos, sz := range p.Sizes {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO sizes (product_id, value, position) VALUES (?, ?, ?)`, p.ID, sz.Value, pos)
			if err != nil {
				return stats, fmt.Errorf("inserting size %q of product %d: %w", sz.Value, p.ID, err)
			}
			sizeID, err := res.LastInsertId()
			if err != nil {
				return stats, err
			}
			stats.Sizes++

			for _, v := range sz.Variants {
				colorID, err := colors.resolve(ctx, v.ColorID, v.ColorName, "")
				if err != nil {
					return stats, err
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO variants (size_id, color_id, quantity) VALUES (?, ?, ?)`,
					sizeID, colorID, v.Quantity); err != nil {
					return stats, fmt.Errorf("inserting variant of product %d: %w", p.ID, err)
				}
				stats.Variants++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("committing import: %w", err)
	}
	return stats, nil
}

type colorResolver struct {
	tx    *sql.Tx
	seen  map[int64]struct{}
	stats *ImportStats
}

// resolve returns the color id to store, upserting colors given by id and
// matching or creating colors given only by name. Blank colors resolve to
// NULL.
func (r *colorResolver) resolve(ctx context.Context, id int64, name, code string) (sql.NullInt64, error) {
	switch {
	case id != 0:
		if _, ok := r.seen[id]; !ok {
			if _, err := r.tx.ExecContext(ctx, `
				INSERT INTO colors (id, name, code) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE colors.name END,
					code = CASE WHEN excluded.code <> '' THEN excluded.code ELSE colors.code END`,
				id, name, code); err != nil {
				return sql.NullInt64{}, fmt.Errorf("upserting color %d: %w", id, err)
			}
			r.seen[id] = struct{}{}
			r.stats.Colors++
		}
		return sql.NullInt64{Int64: id, Valid: true}, nil

	case name != "":
		var existing int64
		err := r.tx.QueryRowContext(ctx, `SELECT id FROM colors WHERE name = ? ORDER BY id LIMIT 1`, name).Scan(&existing)
		if err == nil {
			return sql.NullInt64{Int64: existing, Valid: true}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return sql.NullInt64{}, fmt.Errorf("looking up color %q: %w", name, err)
		}
		res, err := r.tx.ExecContext(ctx, `INSERT INTO colors (name, code) VALUES (?, ?)`, name, code)
		if err != nil {
			return sql.NullInt64{}, fmt.Errorf("inserting color %q: %w", name, err)
		}
		created, err := res.LastInsertId()
		if err != nil {
			return sql.NullInt64{}, err
		}
		r.seen[created] = struct{}{}
		r.stats.Colors++
		return sql.NullInt64{Int64: created, Valid: true}, nil
	}
	return sql.NullInt64{}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
