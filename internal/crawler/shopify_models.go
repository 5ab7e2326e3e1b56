package crawler

import "catalogsync/internal/model"

// catalogPage is the body of GET /collections/<handle>/products.json.
// Entries stay loosely typed until Normalize.
type catalogPage struct {
	Products []model.RawCatalogEntry `json:"products"`
}

// productMetadata is serialised into the metadata column.
type productMetadata struct {
	Vendor        string   `json:"vendor"`
	ProductType   string   `json:"product_type"`
	Tags          []string `json:"tags"`
	VariantsCount int      `json:"variants_count"`
	Options       any      `json:"options"`
}
