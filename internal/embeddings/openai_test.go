package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type embeddingCall struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

func embeddingServer(t *testing.T, failFirst int32, calls *int32, seen chan<- embeddingCall) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		n := atomic.AddInt32(calls, 1)
		if n <= failFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"warming up","type":"server_error"}}`))
			return
		}
		var req embeddingCall
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if seen != nil {
			seen <- req
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testModel(baseURL string, attempts int) *OpenAIModel {
	m := NewOpenAIModel(OpenAIConfig{
		BaseURL:     baseURL + "/v1",
		ImageModel:  "siglip-image",
		TextModel:   "siglip-text",
		Timeout:     2 * time.Second,
		MaxAttempts: attempts,
	})
	m.initialBackoff = time.Millisecond
	return m
}

func TestOpenAIModelEmbedText(t *testing.T) {
	var calls int32
	seen := make(chan embeddingCall, 1)
	ts := embeddingServer(t, 0, &calls, seen)

	vec, err := testModel(ts.URL, 1).EmbedText(context.Background(), "  Logo Hoodie ")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("len = %d", len(vec))
	}
	req := <-seen
	if req.Model != "siglip-text" || len(req.Input) != 1 || req.Input[0] != "Logo Hoodie" {
		t.Fatalf("request = %+v", req)
	}
}

func TestOpenAIModelEmbedImageSendsDataURI(t *testing.T) {
	var calls int32
	seen := make(chan embeddingCall, 1)
	ts := embeddingServer(t, 0, &calls, seen)

	if _, err := testModel(ts.URL, 1).EmbedImage(context.Background(), []byte{0xff, 0xd8, 0xff}); err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	req := <-seen
	if req.Model != "siglip-image" || !strings.HasPrefix(req.Input[0], "data:image/jpeg;base64,") {
		t.Fatalf("request = %+v", req)
	}
}

func TestOpenAIModelRetriesServerErrors(t *testing.T) {
	var calls int32
	ts := embeddingServer(t, 2, &calls, nil)

	if _, err := testModel(ts.URL, 3).EmbedText(context.Background(), "x"); err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestOpenAIModelGivesUp(t *testing.T) {
	var calls int32
	ts := embeddingServer(t, 10, &calls, nil)

	if _, err := testModel(ts.URL, 2).EmbedText(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}
}

func TestOpenAIModelRejectsEmptyInput(t *testing.T) {
	m := testModel("http://127.0.0.1:0", 1)
	if _, err := m.EmbedText(context.Background(), "   "); err == nil {
		t.Error("expected error for blank text")
	}
	if _, err := m.EmbedImage(context.Background(), nil); err == nil {
		t.Error("expected error for empty image")
	}
}
