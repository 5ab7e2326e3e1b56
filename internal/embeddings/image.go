package embeddings

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"catalogsync/internal/platform/httpx"
)

// ImageSource turns an image URL into model-ready JPEG bytes.
type ImageSource interface {
	Load(ctx context.Context, url string) ([]byte, error)
}

// ImageLoader downloads product images, flattens them onto white RGB and resizes
// them to the model's square input size.
type ImageLoader struct {
	client *httpx.Client
	size   int
}

func NewImageLoader(client *httpx.Client, size int) *ImageLoader {
	if size <= 0 {
		size = 384
	}
	return &ImageLoader{client: client, size: size}
}

func (l *ImageLoader) Load(ctx context.Context, url string) ([]byte, error) {
	body, err := l.client.Get(ctx, url, "image/avif,image/webp,image/png,image/jpeg,*/*")
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	return l.prepare(body)
}

func (l *ImageLoader) prepare(body []byte) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("decode image: empty %s", format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, l.size, l.size))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
