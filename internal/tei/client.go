// Package tei is a client for a Hugging Face text-embeddings-inference server
// (e.g. serving sentence-transformers/all-MiniLM-L6-v2).
package tei

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrEmptyInput is returned when CreateEmbedding is called with empty input.
	ErrEmptyInput = errors.New("tei: input text is empty")
	// ErrNoEmbeddingInResponse is returned when the server returns no vectors.
	ErrNoEmbeddingInResponse = errors.New("tei: no embedding in response")
	// ErrDimensionMismatch is returned when the returned vector length does not match configured dimensions.
	ErrDimensionMismatch = errors.New("tei: embedding dimension mismatch")
)

// ClientOptions configures the TEI client.
type ClientOptions struct {
	// BaseURL is the TEI server address (e.g. http://localhost:8081).
	BaseURL string
	// Dimensions is the expected vector length (default: 384). Zero disables the check.
	Dimensions int
	// RetryMax is the maximum number of retries (default: 3)
	RetryMax int
	// Timeout is the HTTP client timeout (default: 30 seconds)
	Timeout time.Duration
}

// Client calls the TEI /embed endpoint.
type Client struct {
	baseURL    string
	dimensions int
	httpClient *retryablehttp.Client
}

type embedRequest struct {
	Inputs    string `json:"inputs"`
	Normalize bool   `json:"normalize"`
	Truncate  bool   `json:"truncate"`
}

// NewClient creates a TEI client.
func NewClient(opts ClientOptions) *Client {
	if opts.Dimensions == 0 {
		opts.Dimensions = 384
	}

	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	if opts.RetryMax == 0 {
		opts.RetryMax = 3
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		dimensions: opts.Dimensions,
		httpClient: retryClient,
	}
}

// CreateEmbedding returns the normalized embedding of input.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	payload, err := json.Marshal(embedRequest{Inputs: input, Normalize: true, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tei embedding: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tei embedding failed with status %d: %s", resp.StatusCode, string(body))
	}

	var vectors [][]float32
	if err := json.Unmarshal(body, &vectors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	if len(vectors) == 0 {
		return nil, ErrNoEmbeddingInResponse
	}

	emb := vectors[0]
	if c.dimensions > 0 && len(emb) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), c.dimensions)
	}

	return emb, nil
}
