package catalog

// AvailableQuantity returns the effective stock of p. When any size carries
// variants the variant quantities are summed (negative ones count as zero);
// otherwise the flat product quantity is used. The result is never negative.
func AvailableQuantity(p Product) int {
	if !hasVariants(p) {
		return max(p.Quantity, 0)
	}
	total := 0
	for _, s := range p.Sizes {
		for _, v := range s.Variants {
			total += max(v.Quantity, 0)
		}
	}
	return total
}

// AvailableSizes lists the size labels that can still be bought. A size with
// variants needs at least one variant in stock; a size without variants is
// always listed. Empty labels are skipped.
func AvailableSizes(p Product) []string {
	sizes := []string{}
	for _, s := range p.Sizes {
		if s.Value == "" {
			continue
		}
		if len(s.Variants) == 0 || anyInStock(s.Variants) {
			sizes = append(sizes, s.Value)
		}
	}
	return sizes
}

// AvailableColors lists in-stock variant color names in first-seen order.
// Products without any variant fall back to their flat color list.
func AvailableColors(p Product) []string {
	colors := []string{}
	seen := make(map[string]struct{})
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		colors = append(colors, name)
	}

	if !hasVariants(p) {
		for _, c := range p.Colors {
			add(c.Name)
		}
		return colors
	}
	for _, s := range p.Sizes {
		for _, v := range s.Variants {
			if v.Quantity > 0 {
				add(v.ColorName)
			}
		}
	}
	return colors
}

// ProjectAvailability projects p onto its effective stock, sizes and colors.
func ProjectAvailability(p Product) Availability {
	return Availability{
		ProductID: p.ID,
		Quantity:  AvailableQuantity(p),
		Sizes:     AvailableSizes(p),
		Colors:    AvailableColors(p),
	}
}

func hasVariants(p Product) bool {
	for _, s := range p.Sizes {
		if len(s.Variants) > 0 {
			return true
		}
	}
	return false
}

func anyInStock(variants []Variant) bool {
	for _, v := range variants {
		if v.Quantity > 0 {
			return true
		}
	}
	return false
}
