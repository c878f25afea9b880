// Package gateway forwards merged message contexts to an OpenAI-compatible
// chat-completion API, either buffering the full response or relaying a
// streamed one chunk by chunk.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/fluxaster/FluxChat/internal/config"
	"github.com/fluxaster/FluxChat/internal/models"
)

// ErrUpstream marks a completion call that failed, timed out, or returned a
// payload the gateway could not use. Callers never see partial output when
// this is returned.
var ErrUpstream = errors.New("upstream completion failed")

// Client is the minimal subset of openai.Client the gateway needs; it is easy
// to substitute in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Options carries the per-request sampling parameters passed through to the
// upstream API. Zero values are omitted from the upstream payload.
type Options struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
}

type Gateway struct {
	client  Client
	timeout time.Duration
}

// New builds a gateway from the upstream configuration.
func New(cfg config.UpstreamConfig) *Gateway {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	return &Gateway{
		client:  openai.NewClientWithConfig(clientCfg),
		timeout: cfg.Timeout(),
	}
}

// NewWithClient builds a gateway around an existing client.
func NewWithClient(client Client, timeout time.Duration) *Gateway {
	return &Gateway{client: client, timeout: timeout}
}

// normalizeBaseURL accepts either a bare host or a URL already ending in /v1
// and returns the form go-openai expects.
func normalizeBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Complete issues a single blocking completion call and returns the assistant
// message.
func (g *Gateway) Complete(ctx context.Context, model string, messages []models.Message, opts Options) (models.Message, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, g.request(model, messages, opts, false))
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return models.Message{}, fmt.Errorf("%w: response contained no choices", ErrUpstream)
	}
	return models.Message{Role: models.RoleAssistant, Content: resp.Choices[0].Message.Content}, nil
}

// StreamCompletion issues a streaming completion call, invoking onChunk for
// every content delta as it arrives, and returns the fully accumulated
// assistant message once the stream finishes cleanly. A stream that ends
// before the upstream reports a finish reason is treated as interrupted: the
// partial text is discarded and ErrUpstream returned. An error from onChunk
// aborts the relay and is returned unchanged.
func (g *Gateway) StreamCompletion(ctx context.Context, model string, messages []models.Message, opts Options, onChunk func(string) error) (models.Message, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	stream, err := g.client.CreateChatCompletionStream(ctx, g.request(model, messages, opts, true))
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer stream.Close()

	var full strings.Builder
	finished := false
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.Message{}, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finished = true
		}
		if choice.Delta.Content == "" {
			continue
		}
		full.WriteString(choice.Delta.Content)
		if onChunk != nil {
			if err := onChunk(choice.Delta.Content); err != nil {
				return models.Message{}, err
			}
		}
	}
	if !finished {
		return models.Message{}, fmt.Errorf("%w: stream ended before completion", ErrUpstream)
	}
	return models.Message{Role: models.RoleAssistant, Content: full.String()}, nil
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) request(model string, messages []models.Message, opts Options, stream bool) openai.ChatCompletionRequest {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    converted,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
}
