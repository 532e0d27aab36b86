// ABOUTME: Upstream token-stream source interface and OpenAI-compatible implementation
// ABOUTME: Streams chat completion deltas from an OpenRouter-style endpoint

package bot

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Generator opens a token stream against the upstream text generator.
// Deltas arrive on the first channel in generation order; after it closes,
// the error channel reports at most one failure.
type Generator interface {
	Stream(ctx context.Context, system, prompt string) (<-chan string, <-chan error)
}

// GeneratorOptions configure the upstream call.
type GeneratorOptions struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// OpenAIGenerator implements Generator on the OpenAI Chat Completions API.
// OpenRouter exposes the same API surface, so the base URL selects the
// provider.
type OpenAIGenerator struct {
	client *openai.Client
	opts   GeneratorOptions
}

// NewOpenAIGenerator creates a generator for the given endpoint and key.
func NewOpenAIGenerator(baseURL, apiKey string, opts GeneratorOptions) *OpenAIGenerator {
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
	return &OpenAIGenerator{client: &client, opts: opts}
}

// Stream opens a streaming chat completion and forwards text deltas.
func (g *OpenAIGenerator) Stream(ctx context.Context, system, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errCh := make(chan error, 1)

	params := openai.ChatCompletionNewParams{
		Model: g.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(g.opts.Temperature),
		MaxTokens:   openai.Int(g.opts.MaxTokens),
	}

	go func() {
		defer close(out)
		defer close(errCh)

		stream := g.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case out <- choice.Delta.Content:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("upstream stream error: %w", err)
		}
	}()

	return out, errCh
}
