// Package openai provides a thin wrapper around the official OpenAI Go SDK for embeddings and narration.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/floatchat/floatchat/internal/models"
	"github.com/floatchat/floatchat/internal/narration"
)

var (
	// ErrEmptyInput is returned when CreateEmbedding is called with empty input.
	ErrEmptyInput = errors.New("openai: input text is empty")
	// ErrInvalidDims is returned when dimensions is not positive.
	ErrInvalidDims = errors.New("openai: embedding dimensions must be positive")
	// ErrNoEmbeddingInResponse is returned when the API response contains no embedding data.
	ErrNoEmbeddingInResponse = errors.New("openai: no embedding in response")
	// ErrDimensionMismatch is returned when the response embedding length does not match configured dimensions.
	ErrDimensionMismatch = errors.New("openai: embedding dimension mismatch")
	// ErrNoChoiceInResponse is returned when a chat completion has no choices.
	ErrNoChoiceInResponse = errors.New("openai: no choice in chat completion")
)

const (
	defaultDimension = 384
	defaultChatModel = string(openaisdk.ChatModelGPT4oMini)
)

// Client calls the OpenAI embeddings and chat completions APIs via the official SDK.
type Client struct {
	sdk        openaisdk.Client
	model      string
	chatModel  string
	dimensions int
	sdkOpts    []option.RequestOption
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the requested embedding dimension (must match the stored profile embeddings).
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		c.dimensions = dim
	}
}

// WithModel sets the embedding model. Empty keeps text-embedding-3-small.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithChatModel sets the model used by Narrate. Empty keeps gpt-4o-mini.
func WithChatModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.chatModel = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.sdkOpts = append(c.sdkOpts, option.WithBaseURL(url))
	}
}

// NewClient creates an OpenAI client using the official SDK.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		model:      string(openaisdk.EmbeddingModelTextEmbedding3Small),
		chatModel:  defaultChatModel,
		dimensions: defaultDimension,
	}

	for _, opt := range opts {
		opt(client)
	}

	client.sdk = openaisdk.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, client.sdkOpts...)...)

	return client
}

// CreateEmbedding returns the embedding vector for the given text.
// The returned slice length equals the configured dimensions.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	if c.dimensions <= 0 {
		return nil, ErrInvalidDims
	}

	resp, err := c.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(input),
		},
		Model:      openaisdk.EmbeddingModel(c.model),
		Dimensions: param.NewOpt(int64(c.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, ErrNoEmbeddingInResponse
	}

	emb := resp.Data[0].Embedding
	if len(emb) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), c.dimensions)
	}

	out := make([]float32, len(emb))
	for i := range emb {
		out[i] = float32(emb[i])
	}

	return out, nil
}

// Narrate asks the chat model to explain one result in plain language.
func (c *Client) Narrate(ctx context.Context, query string, result models.ProfileResult) (string, error) {
	resp, err := c.sdk.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.chatModel),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(narration.Prompt(query, result)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai narration: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoChoiceInResponse
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
