package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Standard error types
var (
	ErrConfiguration = errors.New("configuration error")
	ErrFetch         = errors.New("fetch error")
	ErrNormalization = errors.New("normalization error")
	ErrEmbedding     = errors.New("embedding error")
	ErrWrite         = errors.New("write error")
)

// Configuration wraps a startup configuration problem.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// FetchError is returned when a catalog page could not be fetched after all retries.
type FetchError struct {
	Page int
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d (%s): %v", e.Page, e.URL, e.Err)
}

func (e *FetchError) Is(target error) bool { return target == ErrFetch }
func (e *FetchError) Unwrap() error        { return e.Err }

// NormalizationError marks a raw entry that is missing a required field.
type NormalizationError struct {
	Field  string
	Handle string
}

func (e *NormalizationError) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("normalize %q: missing %s", e.Handle, e.Field)
	}
	return fmt.Sprintf("normalize: missing %s", e.Field)
}

func (e *NormalizationError) Is(target error) bool { return target == ErrNormalization }

// EmbeddingError is a per-record failure of the embedding stage.
type EmbeddingError struct {
	ProductURL string
	Kind       string // image or text
	Err        error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s embedding for %s: %v", e.Kind, e.ProductURL, e.Err)
}

func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }
func (e *EmbeddingError) Unwrap() error        { return e.Err }

// WriteError carries the natural keys of a batch whose upsert failed so it can be retried by hand.
type WriteError struct {
	Keys []string
	Err  error
}

func (e *WriteError) Error() string {
	keys := e.Keys
	suffix := ""
	if len(keys) > 5 {
		suffix = fmt.Sprintf(" (+%d more)", len(keys)-5)
		keys = keys[:5]
	}
	return fmt.Sprintf("upsert %d rows [%s%s]: %v", len(e.Keys), strings.Join(keys, ", "), suffix, e.Err)
}

func (e *WriteError) Is(target error) bool { return target == ErrWrite }
func (e *WriteError) Unwrap() error        { return e.Err }

// Reason maps a per-record error to the skip counter it belongs to.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNormalization):
		return "normalization"
	case errors.Is(err, ErrEmbedding):
		return "embedding"
	case errors.Is(err, ErrWrite):
		return "write"
	case errors.Is(err, ErrFetch):
		return "fetch"
	default:
		return "unknown"
	}
}
