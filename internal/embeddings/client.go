package embeddings

import (
	"context"
	"fmt"

	"catalogsync/internal/apperr"
	"catalogsync/internal/model"
	"catalogsync/internal/platform/logger"
)

type ClientOptions struct {
	Dim        int
	ImageModel string // cache namespace only
	TextModel  string
	Cache      Cache // optional
	Log        *logger.Logger
}

// Client produces the image and text embeddings of a ProductRecord.
//
// An image that cannot be downloaded, decoded or embedded degrades the record to text-only
// (nil image vector). A text embedding failure is an EmbeddingError and the record is skipped.
type Client struct {
	model  Model
	images ImageSource
	opts   ClientOptions
	log    *logger.Logger
}

func NewClient(m Model, images ImageSource, opts ClientOptions) *Client {
	if opts.Dim <= 0 {
		opts.Dim = 768
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Client{model: m, images: images, opts: opts, log: log}
}

func (c *Client) Embed(ctx context.Context, p *model.ProductRecord) (image, text []float32, err error) {
	text, err = c.textEmbedding(ctx, InfoText(p))
	if err != nil {
		return nil, nil, &apperr.EmbeddingError{ProductURL: p.ProductURL, Kind: "text", Err: err}
	}

	if p.ImageURL == "" {
		c.log.Warn("no image, storing text-only record", "product_url", p.ProductURL)
		return nil, text, nil
	}
	image, err = c.imageEmbedding(ctx, p.ImageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, &apperr.EmbeddingError{ProductURL: p.ProductURL, Kind: "image", Err: ctx.Err()}
		}
		c.log.Warn("image embedding failed, storing text-only record",
			"product_url", p.ProductURL,
			"image_url", p.ImageURL,
			"error", err,
		)
		return nil, text, nil
	}
	return image, text, nil
}

func (c *Client) textEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("no text to embed")
	}
	return c.cached(ctx, CacheKey("text", c.opts.TextModel, text), func() ([]float32, error) {
		return c.model.EmbedText(ctx, text)
	})
}

func (c *Client) imageEmbedding(ctx context.Context, url string) ([]float32, error) {
	return c.cached(ctx, CacheKey("image", c.opts.ImageModel, url), func() ([]float32, error) {
		img, err := c.images.Load(ctx, url)
		if err != nil {
			return nil, err
		}
		return c.model.EmbedImage(ctx, img)
	})
}

func (c *Client) cached(ctx context.Context, key string, compute func() ([]float32, error)) ([]float32, error) {
	if c.opts.Cache != nil {
		vec, ok, err := c.opts.Cache.Get(ctx, key)
		if err != nil {
			c.log.Warn("embedding cache read failed", "cache_entry", key, "error", err)
		} else if ok && len(vec) == c.opts.Dim {
			return vec, nil
		}
	}

	raw, err := compute()
	if err != nil {
		return nil, err
	}
	vec, err := EnsureDim(raw, c.opts.Dim)
	if err != nil {
		return nil, err
	}

	if c.opts.Cache != nil {
		if err := c.opts.Cache.Set(ctx, key, vec); err != nil {
			c.log.Warn("embedding cache write failed", "cache_entry", key, "error", err)
		}
	}
	return vec, nil
}
