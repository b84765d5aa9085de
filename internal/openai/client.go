package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Client wraps the OpenAI SDK for shortening medicine instructions.
type Client struct {
	client  *openai.Client
	model   openai.ChatModel
	timeout time.Duration
}

// ErrClientNotInitialised is returned when attempting to call the API without a configured client.
var ErrClientNotInitialised = errors.New("openai client not initialised")

// New returns a client that calls the API when apiKey is provided and falls
// back to truncation otherwise.
func New(apiKey string) *Client {
	if apiKey == "" {
		return &Client{}
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client:  &client,
		model:   openai.ChatModelGPT4oMini,
		timeout: 10 * time.Second,
	}
}

// Enabled reports whether an API key was configured.
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// Condense shortens text to at most limit characters. Text already within
// the limit is returned unchanged; without an API key, or when the model
// fails, the text is truncated.
func (c *Client) Condense(ctx context.Context, text string, limit int) (string, error) {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text, nil
	}
	if !c.Enabled() {
		return truncate(text, limit), ErrClientNotInitialised
	}

	req := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String("You shorten medicine-taking instructions for a text message. Keep every dose, timing and safety detail. Never add advice."),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(fmt.Sprintf("Rewrite in under %d characters: %s", limit, text)),
					},
				},
			},
		},
		Temperature:         openai.Float(0.0),
		MaxCompletionTokens: openai.Int(int64(limit/3 + 16)),
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return truncate(text, limit), err
	}
	if len(resp.Choices) == 0 {
		return truncate(text, limit), fmt.Errorf("no completion received")
	}
	return truncate(strings.TrimSpace(resp.Choices[0].Message.Content), limit), nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
