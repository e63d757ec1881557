package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client over the Anthropic Messages API.
type AnthropicClient struct {
	client sdk.Client
	model  string
}

// NewAnthropicClient reads the API key from the environment variable named by
// apiKeyEnv and builds a streaming client for the given model.
func NewAnthropicClient(apiKeyEnv, model string) (*AnthropicClient, error) {
	key := os.Getenv(apiKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("environment variable %s is not set", apiKeyEnv)
	}
	return &AnthropicClient{
		client: sdk.NewClient(option.WithAPIKey(key)),
		model:  model,
	}, nil
}

// Generate opens a streaming Messages request and converts SSE events into
// chunks on the returned channel. The producer goroutine exits when the
// stream ends or ctx is cancelled.
func (c *AnthropicClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(input.MaxTokens),
		Messages:  encodeMessages(input.Messages),
	}
	if input.System != "" {
		params.System = []sdk.TextBlockParam{{Text: input.System}}
	}
	if input.Temperature > 0 {
		params.Temperature = sdk.Float(input.Temperature)
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	ch := make(chan Chunk, 32)

	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		emit := func(chunk Chunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text == "" {
						continue
					}
					if !emit(&TextChunk{Content: delta.Text}) {
						return
					}
				case sdk.ThinkingDelta:
					if delta.Thinking == "" {
						continue
					}
					if !emit(&ThinkingChunk{Content: delta.Thinking}) {
						return
					}
				}
			case sdk.MessageDeltaEvent:
				usage := &UsageChunk{
					InputTokens:  int32(ev.Usage.InputTokens),
					OutputTokens: int32(ev.Usage.OutputTokens),
					TotalTokens:  int32(ev.Usage.InputTokens + ev.Usage.OutputTokens),
				}
				if !emit(usage) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			emit(toErrorChunk(err))
		}
	}()

	return ch, nil
}

// Close is a no-op: the SDK client holds no persistent connection.
func (c *AnthropicClient) Close() error { return nil }

func encodeMessages(msgs []ConversationMessage) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}

// toErrorChunk classifies a provider error. Rate limits and server-side
// failures are retryable; everything else is terminal.
func toErrorChunk(err error) *ErrorChunk {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		retryable := apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode >= http.StatusInternalServerError
		return &ErrorChunk{
			Message:   apiErr.Error(),
			Code:      fmt.Sprintf("http_%d", apiErr.StatusCode),
			Retryable: retryable,
		}
	}
	return &ErrorChunk{Message: err.Error(), Code: "stream_error", Retryable: false}
}
