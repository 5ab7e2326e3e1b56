package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"catalogsync/internal/apperr"
	"catalogsync/internal/model"
)

// Beginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ProductRepository writes ProductRecords into public.products.
type ProductRepository struct {
	DB Beginner
}

var productColumns = []string{
	"id", "source", "product_url", "affiliate_url", "image_url", "brand", "title", "description",
	"category", "gender", "metadata", "size", "second_hand", "country", "compressed_image_url",
	"tags", "other", "price", "sale", "additional_images", "image_embedding", "info_embedding",
}

var upsertProductSQL = buildUpsertSQL("public.products", productColumns, []string{"source", "product_url"})

// buildUpsertSQL overwrites every non-key column on conflict, so a re-run fully replaces the row.
func buildUpsertSQL(table string, columns, conflict []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	isKey := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		isKey[c] = true
	}
	var sets []string
	for _, c := range columns {
		if isKey[c] {
			continue
		}
		sets = append(sets, c+" = EXCLUDED."+c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflict, ", "),
		strings.Join(sets, ", "),
	)
}

// Upsert writes one batch inside a single transaction. On failure nothing of the batch is
// committed and the returned WriteError lists every product_url of the batch.
func (r *ProductRepository) Upsert(ctx context.Context, records []*model.ProductRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	keys := make([]string, len(records))
	for i, p := range records {
		keys[i] = p.ProductURL
	}
	fail := func(err error) (int, error) {
		return 0, &apperr.WriteError{Keys: keys, Err: err}
	}

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return fail(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range records {
		batch.Queue(upsertProductSQL, rowArgs(p)...)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fail(fmt.Errorf("row %s: %w", records[i].ProductURL, err))
		}
	}
	if err := br.Close(); err != nil {
		return fail(fmt.Errorf("close batch: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	return len(records), nil
}

// rowArgs follows productColumns order.
func rowArgs(p *model.ProductRecord) []any {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		p.ID(),
		p.Source,
		p.ProductURL,
		nil, // affiliate_url
		p.ImageURL,
		p.Brand,
		p.Title,
		nullIfEmpty(p.Description),
		nullIfEmpty(p.Category),
		nullIfEmpty(p.Gender),
		nullIfEmpty(p.Metadata),
		nullIfEmpty(p.Size),
		p.SecondHand,
		p.Country,
		nil, // compressed_image_url
		tags,
		nil, // other
		nullIfEmpty(p.Price),
		nullIfEmpty(p.Sale),
		nullIfEmpty(p.AdditionalImages),
		vectorLiteral(p.ImageEmbedding),
		vectorLiteral(p.TextEmbedding),
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// vectorLiteral converts []float32 to "[v1,v2,...]" (pgvector text input). nil stays NULL.
func vectorLiteral(embedding []float32) *string {
	if embedding == nil {
		return nil
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	s := "[" + strings.Join(parts, ",") + "]"
	return &s
}
