package embeddings

import (
	"strings"

	"catalogsync/internal/model"
)

const (
	maxDescriptionRunes = 2000
	maxMetadataRunes    = 1000
)

// InfoText is the text the info embedding is computed from. Parts are joined by a single
// space in a fixed order and empty parts are omitted, so identical records give identical input.
func InfoText(p *model.ProductRecord) string {
	var parts []string
	add := func(prefix, v string) {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, prefix+v)
		}
	}
	add("", p.Title)
	add("", p.Brand)
	add("Price: ", p.Price)
	add("Sale: ", p.Sale)
	add("Category: ", p.Category)
	add("Gender: ", p.Gender)
	add("", truncateRunes(p.Description, maxDescriptionRunes))
	add("", truncateRunes(p.Metadata, maxMetadataRunes))
	return strings.Join(parts, " ")
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
