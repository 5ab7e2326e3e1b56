package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/lib/pq"

	"catalogsync/internal/model"
)

var ErrEmptyKeepSet = errors.New("refusing to prune with an empty keep set")

// RawRepository keeps the raw storefront payloads and removes products that left the catalog.
type RawRepository struct {
	DB *sql.DB
}

func (r *RawRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS product_raw_catalog (
			source      text        NOT NULL,
			product_url text        NOT NULL,
			raw_content jsonb       NOT NULL,
			fetched_at  timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (source, product_url)
		)
	`)
	return err
}

// SaveSnapshot stores the latest raw entry for (source, product_url).
func (r *RawRepository) SaveSnapshot(ctx context.Context, source, productURL string, raw model.RawCatalogEntry) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO product_raw_catalog (source, product_url, raw_content, fetched_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (source, product_url) DO UPDATE
		SET raw_content = EXCLUDED.raw_content, fetched_at = EXCLUDED.fetched_at
	`, source, productURL, strings.ToValidUTF8(string(b), ""))
	return err
}

// PruneStale deletes the source's products whose id is not in keepIDs and returns how many
// rows went away. The caller must pass the ids of a complete catalog pass.
func (r *RawRepository) PruneStale(ctx context.Context, source string, keepIDs []string) (int64, error) {
	if len(keepIDs) == 0 {
		return 0, ErrEmptyKeepSet
	}
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM public.products
		WHERE source = $1 AND id <> ALL($2)
	`, source, pq.Array(keepIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
