package embeddings

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"catalogsync/internal/platform/httpx"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImageLoaderResizesToSquareJPEG(t *testing.T) {
	body := pngBytes(t, 120, 80)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer ts.Close()

	l := NewImageLoader(httpx.New(2*time.Second, 1, nil), 384)
	out, err := l.Load(context.Background(), ts.URL+"/a.png")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 384 || b.Dy() != 384 {
		t.Fatalf("bounds = %v, want 384x384", b)
	}
	r, _, _, _ := img.At(192, 192).RGBA()
	if r>>8 < 150 {
		t.Errorf("center pixel lost its colour: r=%d", r>>8)
	}
}

func TestImageLoaderRejectsNonImage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer ts.Close()

	l := NewImageLoader(httpx.New(2*time.Second, 1, nil), 384)
	if _, err := l.Load(context.Background(), ts.URL); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestImageLoaderPropagatesHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	l := NewImageLoader(httpx.New(2*time.Second, 1, nil), 384)
	if _, err := l.Load(context.Background(), ts.URL); err == nil {
		t.Fatal("expected download error")
	}
}
