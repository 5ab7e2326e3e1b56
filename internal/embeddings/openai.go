package embeddings

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	openai "github.com/sashabaranov/go-openai"
)

// Model is the black-box embedding capability.
type Model interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, jpeg []byte) ([]float32, error)
}

type OpenAIConfig struct {
	BaseURL     string // OpenAI-compatible inference server, e.g. http://host:7997/v1
	APIKey      string
	ImageModel  string
	TextModel   string
	Timeout     time.Duration
	MaxAttempts int
}

// OpenAIModel calls an OpenAI-compatible /embeddings endpoint. Images are sent as
// base64 JPEG data URIs to the image model.
type OpenAIModel struct {
	client         *openai.Client
	cfg            OpenAIConfig
	initialBackoff time.Duration
}

func NewOpenAIModel(cfg OpenAIConfig) *OpenAIModel {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &OpenAIModel{
		client:         openai.NewClientWithConfig(oc),
		cfg:            cfg,
		initialBackoff: time.Second,
	}
}

func (m *OpenAIModel) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty text input")
	}
	return m.embed(ctx, m.cfg.TextModel, text)
}

func (m *OpenAIModel) EmbedImage(ctx context.Context, jpeg []byte) ([]float32, error) {
	if len(jpeg) == 0 {
		return nil, errors.New("empty image input")
	}
	return m.embed(ctx, m.cfg.ImageModel, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(jpeg))
}

func (m *OpenAIModel) embed(ctx context.Context, model, input string) ([]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialBackoff
	return backoff.Retry(ctx, func() ([]float32, error) {
		resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(model),
			Input: []string{input},
		})
		if err != nil {
			if !retryableAPIError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("model %s returned no embedding", model))
		}
		return resp.Data[0].Embedding, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(m.cfg.MaxAttempts)))
}

func retryableAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}
