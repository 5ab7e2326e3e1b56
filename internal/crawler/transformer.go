package crawler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"catalogsync/internal/apperr"
	"catalogsync/internal/config"
	"catalogsync/internal/model"
)

// Normalizer converts raw storefront entries into ProductRecords for one store.
type Normalizer struct {
	Source         string
	Brand          string
	Country        string
	Currency       string
	ProductBaseURL string
}

func NewNormalizer(store config.Store) *Normalizer {
	return &Normalizer{
		Source:         store.Source,
		Brand:          store.Brand,
		Country:        store.Country,
		Currency:       store.Currency,
		ProductBaseURL: store.ProductBaseURL(),
	}
}

// Normalize is pure. A missing handle or title is a NormalizationError; every other
// absent field becomes an empty string.
func (n *Normalizer) Normalize(raw model.RawCatalogEntry) (*model.ProductRecord, error) {
	handle := strings.TrimSpace(str(raw["handle"]))
	if handle == "" {
		return nil, &apperr.NormalizationError{Field: "handle"}
	}
	title := strings.TrimSpace(str(raw["title"]))
	if title == "" {
		return nil, &apperr.NormalizationError{Field: "title", Handle: handle}
	}

	productType := strings.TrimSpace(str(raw["product_type"]))
	tags := stringList(raw["tags"])
	variants := list(raw["variants"])
	imageURL, additional := imageURLs(raw)

	meta, err := json.Marshal(productMetadata{
		Vendor:        str(raw["vendor"]),
		ProductType:   productType,
		Tags:          tags,
		VariantsCount: len(variants),
		Options:       raw["options"],
	})
	if err != nil {
		return nil, fmt.Errorf("%w: metadata for %q: %v", apperr.ErrNormalization, handle, err)
	}

	return &model.ProductRecord{
		Source:           n.Source,
		Brand:            n.Brand,
		ProductURL:       strings.TrimRight(n.ProductBaseURL, "/") + "/" + handle,
		Handle:           handle,
		Title:            title,
		Description:      StripHTML(str(raw["body_html"])),
		Price:            n.price(variants),
		Sale:             n.sale(variants),
		ImageURL:         imageURL,
		AdditionalImages: additional,
		Category:         category(productType),
		Gender:           gender(title, productType, tags),
		Size:             sizes(raw["options"]),
		Tags:             tags,
		Metadata:         string(meta),
		SecondHand:       false,
		Country:          n.Country,
	}, nil
}

// imageURLs picks the first listed image; the rest are joined with " , ".
func imageURLs(raw model.RawCatalogEntry) (string, string) {
	var urls []string
	for _, img := range list(raw["images"]) {
		m, ok := img.(map[string]any)
		if !ok {
			continue
		}
		if src := strings.TrimSpace(str(m["src"])); src != "" {
			urls = append(urls, src)
		}
	}
	if len(urls) == 0 {
		return "", ""
	}
	return urls[0], strings.Join(urls[1:], " , ")
}

func category(productType string) string {
	if productType == "" {
		return ""
	}
	out := strings.ReplaceAll(productType, " & ", ", ")
	out = strings.ReplaceAll(out, " and ", ", ")
	return strings.TrimSpace(out)
}

// gender is "woman" for girls/women products, "man" otherwise; the store is mostly menswear.
func gender(title, productType string, tags []string) string {
	t := strings.ToUpper(title)
	pt := strings.ToUpper(productType)
	if strings.Contains(pt, "GIRLS") || strings.Contains(t, "GIRLS") {
		return "woman"
	}
	for _, tag := range tags {
		if strings.Contains(strings.ToUpper(tag), "GIRL") {
			return "woman"
		}
	}
	if strings.Contains(pt, "WOMEN") || strings.Contains(t, "WOMEN") {
		return "woman"
	}
	return "man"
}

func sizes(options any) string {
	for _, o := range list(options) {
		m, ok := o.(map[string]any)
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(str(m["name"]))) {
		case "size", "größe", "grösse":
			vals := list(m["values"])
			out := make([]string, 0, len(vals))
			for _, v := range vals {
				out = append(out, str(v))
			}
			return strings.Join(out, ", ")
		}
	}
	return ""
}

// price is the original price of the first variant: compare_at_price when set, else price.
func (n *Normalizer) price(variants []any) string {
	v := firstVariant(variants)
	if v == nil {
		return ""
	}
	value := str(v["compare_at_price"])
	if value == "" {
		value = str(v["price"])
	}
	return n.money(value)
}

// sale is the current price of the first variant when it is below compare_at_price.
func (n *Normalizer) sale(variants []any) string {
	v := firstVariant(variants)
	if v == nil {
		return ""
	}
	price := str(v["price"])
	if price == "" {
		return ""
	}
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return price + n.Currency
	}
	c, err := strconv.ParseFloat(str(v["compare_at_price"]), 64)
	if err != nil || p >= c {
		return ""
	}
	return n.money(price)
}

func (n *Normalizer) money(value string) string {
	if value == "" {
		return ""
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return value + n.Currency
	}
	return strconv.FormatFloat(f, 'f', 2, 64) + n.Currency
}

func firstVariant(variants []any) map[string]any {
	if len(variants) == 0 {
		return nil
	}
	v, _ := variants[0].(map[string]any)
	return v
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

// stringList accepts both the array form and the legacy comma separated form of tags.
func stringList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := strings.TrimSpace(str(e)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		out := []string{}
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
