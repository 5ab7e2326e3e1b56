package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// RawCatalogEntry is one product object exactly as the storefront returned it.
type RawCatalogEntry map[string]any

type ProductRecord struct {
	Source           string
	Brand            string
	ProductURL       string
	Handle           string
	Title            string
	Description      string
	Price            string
	Sale             string
	ImageURL         string
	AdditionalImages string
	Category         string
	Gender           string
	Size             string
	Tags             []string
	Metadata         string // JSON object
	SecondHand       bool
	Country          string

	ImageEmbedding []float32
	TextEmbedding  []float32
}

// ID is the deterministic row id derived from the natural key.
func (p *ProductRecord) ID() string {
	return GenerateID(p.Source, p.ProductURL)
}

func GenerateID(source, productURL string) string {
	sum := sha256.Sum256([]byte(source + ":" + productURL))
	return hex.EncodeToString(sum[:])
}

// Key is the natural key (source, product_url).
type Key struct {
	Source     string
	ProductURL string
}

func (p *ProductRecord) Key() Key {
	return Key{Source: p.Source, ProductURL: p.ProductURL}
}
