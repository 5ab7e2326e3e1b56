package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/model"
	"catalogsync/internal/observability"
	"catalogsync/internal/platform/logger"
)

const (
	DefaultBatchSize  = 50
	DefaultSampleKeys = 5
)

type Source interface {
	All(ctx context.Context) iter.Seq2[model.RawCatalogEntry, error]
}

type Normalizer interface {
	Normalize(raw model.RawCatalogEntry) (*model.ProductRecord, error)
}

type Embedder interface {
	Embed(ctx context.Context, p *model.ProductRecord) (image, text []float32, err error)
}

type Writer interface {
	Upsert(ctx context.Context, records []*model.ProductRecord) (int, error)
}

// Archiver stores the raw entry behind a record.
type Archiver interface {
	SaveSnapshot(ctx context.Context, source, productURL string, raw model.RawCatalogEntry) error
}

// Pruner removes rows of source that were not seen in a complete run.
type Pruner interface {
	PruneStale(ctx context.Context, source string, keepIDs []string) (int64, error)
}

type Options struct {
	Limit      int
	DryRun     bool
	BatchSize  int
	SampleKeys int
	Prune      bool
	Source     string
}

type Runner struct {
	Source     Source
	Normalizer Normalizer
	Embedder   Embedder
	Writer     Writer
	Archiver   Archiver
	Pruner     Pruner
	Metrics    *observability.Metrics
	Log        *logger.Logger
	Options    Options
	RunID      string
}

type Summary struct {
	RunID      string
	Fetched    int
	Normalized int
	Embedded   int
	Degraded   int
	Written    int
	WouldWrite int
	Failed     int
	Pruned     int64
	Skipped    map[string]int
	SampleKeys []model.Key
	Duration   time.Duration
}

type run struct {
	*Runner
	sum      Summary
	pending  []*model.ProductRecord
	keep     []string
	writeErr []error

	// set when a skipped entry may still have a row whose id cannot be derived
	unsafePrune bool
}

// Run drives one catalog pass: fetch, normalize, embed and write in batches. Per-record failures
// are counted and skipped; a fetch failure aborts the run and any failed batch makes the result
// an error once the remaining batches have been attempted. The summary is logged in every case.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.Log == nil {
		r.Log = logger.Nop()
	}
	opts := r.Options
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SampleKeys <= 0 {
		opts.SampleKeys = DefaultSampleKeys
	}
	r.Options = opts

	start := time.Now()
	st := &run{Runner: r, sum: Summary{RunID: r.RunID, Skipped: map[string]int{}}}
	err := st.execute(ctx)
	st.sum.Duration = time.Since(start)
	st.logSummary(err)
	return st.sum, err
}

func (s *run) execute(ctx context.Context) error {
	s.Log.Info("run started", "run_id", s.RunID, "dry_run", s.Options.DryRun, "limit", s.Options.Limit, "batch_size", s.Options.BatchSize)

	for raw, err := range s.Source.All(ctx) {
		if err != nil {
			return errors.Join(append([]error{fmt.Errorf("fetch catalog: %w", err)}, s.writeErr...)...)
		}
		s.sum.Fetched++
		s.Metrics.Record("fetched")

		s.process(ctx, raw)

		if len(s.pending) >= s.Options.BatchSize {
			s.flush(ctx)
		}
		if s.Options.Limit > 0 && s.sum.Fetched >= s.Options.Limit {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.flush(ctx)

	if len(s.writeErr) > 0 {
		return errors.Join(s.writeErr...)
	}
	return s.prune(ctx)
}

func (s *run) process(ctx context.Context, raw model.RawCatalogEntry) {
	p, err := s.Normalizer.Normalize(raw)
	if err != nil {
		var ne *apperr.NormalizationError
		if !errors.As(err, &ne) || ne.Handle != "" {
			s.unsafePrune = true
		}
		s.skip(err, "", raw["handle"])
		return
	}
	s.sum.Normalized++
	s.Metrics.Record("normalized")

	start := time.Now()
	img, txt, err := s.Embedder.Embed(ctx, p)
	s.Metrics.Observe("embed", start)
	if err != nil {
		// still in the catalog, its existing row must survive a prune
		s.keep = append(s.keep, p.ID())
		s.skip(err, p.ProductURL, p.Handle)
		return
	}
	p.ImageEmbedding, p.TextEmbedding = img, txt
	s.sum.Embedded++
	s.Metrics.Record("embedded")
	s.Metrics.Embedding("text")
	if img == nil {
		s.sum.Degraded++
	} else {
		s.Metrics.Embedding("image")
	}

	if s.Archiver != nil && !s.Options.DryRun {
		if err := s.Archiver.SaveSnapshot(ctx, p.Source, p.ProductURL, raw); err != nil {
			s.Log.Warn("raw snapshot not saved", "product_url", p.ProductURL, "error", err)
		}
	}
	s.pending = append(s.pending, p)
}

func (s *run) skip(err error, productURL string, handle any) {
	reason := apperr.Reason(err)
	s.sum.Skipped[reason]++
	s.Metrics.Skip(reason)
	s.Log.Warn("record skipped", "reason", reason, "product_url", productURL, "handle", handle, "error", err)
}

func (s *run) flush(ctx context.Context) {
	if len(s.pending) == 0 {
		return
	}
	batch := s.pending
	s.pending = nil

	if s.Options.DryRun {
		s.sum.WouldWrite += len(batch)
		for _, p := range batch {
			if len(s.sum.SampleKeys) >= s.Options.SampleKeys {
				break
			}
			s.sum.SampleKeys = append(s.sum.SampleKeys, p.Key())
		}
		return
	}

	start := time.Now()
	n, err := s.Writer.Upsert(ctx, batch)
	s.Metrics.Observe("write", start)
	if err != nil {
		s.sum.Failed += len(batch)
		s.Metrics.WriteFailed()
		s.writeErr = append(s.writeErr, err)
		keys := make([]string, len(batch))
		for i, p := range batch {
			keys[i] = p.ProductURL
		}
		var we *apperr.WriteError
		if errors.As(err, &we) && len(we.Keys) > 0 {
			keys = we.Keys
		}
		s.Log.Error("batch write failed", "records", len(batch), "keys", keys, "error", err)
		return
	}
	s.sum.Written += n
	s.Metrics.RecordN("written", n)
	for _, p := range batch {
		s.keep = append(s.keep, p.ID())
	}
	s.Log.Debug("batch written", "records", n, "total", s.sum.Written)
}

// prune only runs after a full, successful, non-dry catalog pass.
func (s *run) prune(ctx context.Context) error {
	if !s.Options.Prune || s.Pruner == nil {
		return nil
	}
	if s.Options.DryRun || s.Options.Limit > 0 {
		s.Log.Info("prune skipped", "dry_run", s.Options.DryRun, "limit", s.Options.Limit)
		return nil
	}
	if s.unsafePrune {
		s.Log.Warn("prune skipped, a catalog entry with a handle failed to normalize", "skipped", s.sum.Skipped)
		return nil
	}
	if len(s.keep) == 0 {
		s.Log.Warn("prune skipped, no rows written")
		return nil
	}
	n, err := s.Pruner.PruneStale(ctx, s.Options.Source, s.keep)
	if err != nil {
		return fmt.Errorf("prune stale rows: %w", err)
	}
	s.sum.Pruned = n
	return nil
}

func (s *run) logSummary(err error) {
	kv := []any{
		"run_id", s.sum.RunID,
		"fetched", s.sum.Fetched,
		"normalized", s.sum.Normalized,
		"embedded", s.sum.Embedded,
		"degraded", s.sum.Degraded,
		"skipped", s.sum.Skipped,
		"duration", s.sum.Duration.String(),
	}
	if s.Options.DryRun {
		kv = append(kv, "would_write", s.sum.WouldWrite, "sample_keys", s.sum.SampleKeys)
	} else {
		kv = append(kv, "written", s.sum.Written, "failed", s.sum.Failed, "pruned", s.sum.Pruned)
	}
	if err != nil {
		s.Log.Error("run finished with errors", append(kv, "error", err)...)
		return
	}
	s.Log.Info("run finished", kv...)
}
