package sanitize

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/research-agent/internal/model"
)

// DefaultMaxProducts caps a sanitized record set.
const DefaultMaxProducts = 12

// SanitizeProducts cleans every record's URL against the allow-list,
// normalizes titles, drops records that fail sanitization, and deduplicates
// by canonical URL (case-insensitive). At most maxProducts records survive;
// order follows the input.
func (c *Cleaner) SanitizeProducts(items []model.ProductItem, maxProducts int) []model.ProductItem {
	if maxProducts <= 0 {
		maxProducts = DefaultMaxProducts
	}

	seen := make(map[string]bool, len(items))
	out := make([]model.ProductItem, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Title) == "" {
			continue
		}
		cleaned, err := c.CleanURL(item.URL)
		if err != nil {
			continue
		}
		key := strings.ToLower(cleaned)
		if seen[key] {
			continue
		}
		seen[key] = true

		item.URL = cleaned
		item.Title = NormalizeTitle(item.Title)
		out = append(out, item)
		if len(out) >= maxProducts {
			break
		}
	}
	return out
}

// MergeShoppingItems merges freshly extracted product records into an
// existing shopping list. On a canonical-URL match the existing item keeps
// its writer-authored metadata (category, quantity, rationale) and only
// price and URL are refreshed. Fresh records without a match are appended.
// Pure function: neither input is mutated.
func (c *Cleaner) MergeShoppingItems(existing []model.ShoppingItem, fresh []model.ProductItem) []model.ShoppingItem {
	merged := make([]model.ShoppingItem, len(existing))
	copy(merged, existing)

	canonical := func(raw string) string {
		cleaned, err := c.CleanURL(raw)
		if err != nil {
			return ""
		}
		return strings.ToLower(cleaned)
	}

	byURL := make(map[string]int, len(merged))
	for i, item := range merged {
		if key := canonical(item.URL); key != "" {
			byURL[key] = i
		}
	}

	for _, record := range fresh {
		key := strings.ToLower(record.URL)
		if key == "" {
			continue
		}
		if i, ok := byURL[key]; ok {
			merged[i].URL = record.URL
			if record.PriceText != "" {
				merged[i].Price = record.PriceText
			}
			continue
		}
		byURL[key] = len(merged)
		merged = append(merged, model.ShoppingItem{
			Category:  "Material",
			Product:   record.Title,
			Quantity:  "1",
			Rationale: record.Note,
			Price:     record.PriceText,
			URL:       record.URL,
		})
	}

	for i := range merged {
		merged[i].Position = i + 1
	}
	return merged
}

// NormalizeTitle applies NFC normalization and collapses runs of whitespace,
// so titles with different unicode compositions compare and render cleanly.
func NormalizeTitle(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}
