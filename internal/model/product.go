package model

// ProductItem is a purchasable product reference extracted from a
// structured-extraction search. URL is already sanitized and restricted to
// allow-listed retailer domains by the time the item leaves the search layer.
type ProductItem struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Note      string `json:"note,omitempty"`
	PriceText string `json:"price_text,omitempty"`
}
