// Package openai provides a client for OpenAI-compatible embedding APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client defines the embedding operations.
type Client interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// APIError is returned for non-200 responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL (Azure or compatible gateways).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithDimensions requests a reduced output size. Only text-embedding-3-*
// models accept it; it is ignored for other models.
func WithDimensions(n int) Option {
	return func(c *httpClient) {
		c.dimensions = n
	}
}

type httpClient struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	http       *http.Client
}

// NewClient creates an embedding client for model.
func NewClient(apiKey, model string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) supportsDimensions() bool {
	return c.model == "text-embedding-3-small" || c.model == "text-embedding-3-large"
}

func (c *httpClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embeddingRequest{Model: c.model, Input: texts}
	if c.dimensions > 0 && c.supportsDimensions() {
		reqBody.Dimensions = c.dimensions
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "openai: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "openai: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "openai: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "openai: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out embeddingResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "openai: decode response")
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, eris.Errorf("openai: embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vectors[d.Index] = vec
	}
	for i, v := range vectors {
		if v == nil {
			return nil, eris.Errorf("openai: missing embedding for input %d", i)
		}
	}
	return vectors, nil
}
