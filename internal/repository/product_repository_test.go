package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"catalogsync/internal/apperr"
	"catalogsync/internal/db"
	"catalogsync/internal/model"
)

// memTable emulates public.products keyed by (source, product_url).
type memTable struct {
	rows      map[model.Key][]any
	failOn    string
	beginErr  error
	commits   int
	rollbacks int
}

func (m *memTable) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return &memTx{table: m}, nil
}

type memTx struct {
	pgx.Tx
	table   *memTable
	pending map[model.Key][]any
	done    bool
}

func (tx *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return &memResults{tx: tx, queued: b.QueuedQueries}
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	if tx.table.rows == nil {
		tx.table.rows = map[model.Key][]any{}
	}
	for k, v := range tx.pending {
		tx.table.rows[k] = v
	}
	tx.table.commits++
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	tx.table.rollbacks++
	return nil
}

type memResults struct {
	pgx.BatchResults
	tx     *memTx
	queued []*pgx.QueuedQuery
	next   int
}

func (r *memResults) Exec() (pgconn.CommandTag, error) {
	q := r.queued[r.next]
	r.next++
	if !strings.HasPrefix(q.SQL, "INSERT INTO public.products") {
		return pgconn.CommandTag{}, errors.New("unexpected statement")
	}
	key := model.Key{Source: q.Arguments[1].(string), ProductURL: q.Arguments[2].(string)}
	if key.ProductURL == r.tx.table.failOn {
		return pgconn.CommandTag{}, errors.New("value too long for type character varying")
	}
	if r.tx.pending == nil {
		r.tx.pending = map[model.Key][]any{}
	}
	r.tx.pending[key] = q.Arguments
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *memResults) Close() error { return nil }

func rec(url, price string) *model.ProductRecord {
	return &model.ProductRecord{
		Source:         "scraper",
		Brand:          "Moremoney Morelove",
		ProductURL:     url,
		Title:          "Logo Tee",
		ImageURL:       "https://cdn.shopify.com/tee.jpg",
		Price:          price,
		Country:        "DE",
		ImageEmbedding: []float32{0.6, 0.8},
		TextEmbedding:  []float32{1, 0},
	}
}

func priceOf(row []any) string {
	if p, ok := row[17].(*string); ok && p != nil {
		return *p
	}
	return ""
}

func TestUpsertIsIdempotent(t *testing.T) {
	table := &memTable{}
	repo := &ProductRepository{DB: table}
	batch := []*model.ProductRecord{
		rec("https://moremoneymorelove.de/en/products/a", "40.00EUR"),
		rec("https://moremoneymorelove.de/en/products/b", "55.00EUR"),
	}

	for i := 0; i < 2; i++ {
		n, err := repo.Upsert(context.Background(), batch)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if n != 2 {
			t.Fatalf("run %d wrote %d rows", i, n)
		}
	}
	if len(table.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(table.rows))
	}
	if table.commits != 2 {
		t.Errorf("commits = %d", table.commits)
	}
}

func TestUpsertOverwritesChangedFields(t *testing.T) {
	table := &memTable{}
	repo := &ProductRepository{DB: table}
	url := "https://moremoneymorelove.de/en/products/a"

	if _, err := repo.Upsert(context.Background(), []*model.ProductRecord{rec(url, "40.00EUR")}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Upsert(context.Background(), []*model.ProductRecord{rec(url, "35.00EUR")}); err != nil {
		t.Fatal(err)
	}
	row := table.rows[model.Key{Source: "scraper", ProductURL: url}]
	if got := priceOf(row); got != "35.00EUR" {
		t.Fatalf("price = %q, want 35.00EUR", got)
	}
	if len(table.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(table.rows))
	}
}

func TestUpsertFailureRollsBackWholeBatch(t *testing.T) {
	table := &memTable{failOn: "https://moremoneymorelove.de/en/products/b"}
	repo := &ProductRepository{DB: table}
	batch := []*model.ProductRecord{
		rec("https://moremoneymorelove.de/en/products/a", "40.00EUR"),
		rec("https://moremoneymorelove.de/en/products/b", "55.00EUR"),
	}

	n, err := repo.Upsert(context.Background(), batch)
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
	var we *apperr.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	if len(we.Keys) != 2 {
		t.Errorf("keys = %v", we.Keys)
	}
	if !errors.Is(err, apperr.ErrWrite) {
		t.Error("WriteError should match ErrWrite")
	}
	if len(table.rows) != 0 || table.rollbacks != 1 {
		t.Fatalf("rows=%d rollbacks=%d, want 0 and 1", len(table.rows), table.rollbacks)
	}
}

func TestUpsertBeginFailure(t *testing.T) {
	repo := &ProductRepository{DB: &memTable{beginErr: errors.New("connection refused")}}
	_, err := repo.Upsert(context.Background(), []*model.ProductRecord{rec("u", "1.00EUR")})
	if !errors.Is(err, apperr.ErrWrite) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpsertEmptyBatch(t *testing.T) {
	table := &memTable{}
	n, err := (&ProductRepository{DB: table}).Upsert(context.Background(), nil)
	if n != 0 || err != nil || table.commits != 0 {
		t.Fatalf("n=%d err=%v commits=%d", n, err, table.commits)
	}
}

func TestRowArgs(t *testing.T) {
	p := rec("https://moremoneymorelove.de/en/products/a", "")
	p.TextEmbedding = nil
	args := rowArgs(p)
	if len(args) != len(productColumns) {
		t.Fatalf("args = %d, columns = %d", len(args), len(productColumns))
	}
	if args[0] != p.ID() {
		t.Errorf("id = %v", args[0])
	}
	if v := args[17].(*string); v != nil {
		t.Errorf("empty price should be NULL, got %q", *v)
	}
	if tags := args[15].([]string); tags == nil {
		t.Error("tags must not be nil")
	}
	if v := args[21].(*string); v != nil {
		t.Error("missing text embedding should be NULL")
	}
	if v := args[20].(*string); v == nil || *v != "[0.6,0.8]" {
		t.Errorf("image embedding = %v", v)
	}
}

func TestBuildUpsertSQL(t *testing.T) {
	got := buildUpsertSQL("t", []string{"id", "source", "url", "price"}, []string{"source", "url"})
	want := "INSERT INTO t (id, source, url, price) VALUES ($1, $2, $3, $4) ON CONFLICT (source, url) DO UPDATE SET id = EXCLUDED.id, price = EXCLUDED.price"
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestVectorLiteral(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want string
	}{
		{"simple", []float32{0.5, -1, 0}, "[0.5,-1,0]"},
		{"empty", []float32{}, "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := vectorLiteral(tt.in)
			if got == nil || *got != tt.want {
				t.Fatalf("got %v, want %s", got, tt.want)
			}
		})
	}
	if vectorLiteral(nil) != nil {
		t.Error("nil embedding should map to NULL")
	}
}

// Runs against a real database when TEST_DATABASE_URL points at a schema with public.products.
func TestUpsertPostgres(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	repo := &ProductRepository{DB: pool}
	p := rec("https://moremoneymorelove.de/en/products/integration-test", "40.00EUR")
	p.ImageEmbedding = make([]float32, 768)
	p.ImageEmbedding[0] = 1
	p.TextEmbedding = make([]float32, 768)
	p.TextEmbedding[1] = 1
	t.Cleanup(func() {
		pool.Exec(ctx, "DELETE FROM public.products WHERE source = $1 AND product_url = $2", p.Source, p.ProductURL)
	})

	for i := 0; i < 2; i++ {
		if _, err := repo.Upsert(ctx, []*model.ProductRecord{p}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	var n int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM public.products WHERE source = $1 AND product_url = $2", p.Source, p.ProductURL).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}
