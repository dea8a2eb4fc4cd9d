// Package llm provides the chat-completion gateway used by the
// generation and evaluation pipelines. The pipelines depend only on
// the Completer interface; the concrete client speaks the
// OpenAI-compatible protocol and routes "provider/model-name"
// identifiers to configured endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/config"
)

// Message roles accepted by Complete.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string
	Content string
}

// Completer is the abstract completion capability: given a model
// identifier and ordered messages, return generated text or fail.
type Completer interface {
	Complete(ctx context.Context, model string, messages []Message, jsonMode bool) (string, error)
}

// Client implements Completer over one OpenAI-compatible sub-client
// per configured provider.
type Client struct {
	apis map[string]*openai.Client
}

// New creates a client for every provider in the configuration.
func New(cfg *config.Config) *Client {
	apis := make(map[string]*openai.Client, len(cfg.Providers))
	for name, p := range cfg.Providers {
		c := openai.DefaultConfig(p.APIKey)
		if p.BaseURL != "" {
			c.BaseURL = p.BaseURL
		}
		apis[name] = openai.NewClientWithConfig(c)
	}
	return &Client{apis: apis}
}

// Complete sends one chat request. The model identifier must be of
// the form "provider/model-name"; the provider selects the endpoint
// and the bare model name goes on the wire.
func (c *Client) Complete(ctx context.Context, model string, messages []Message, jsonMode bool) (string, error) {
	provider, name, ok := strings.Cut(model, "/")
	if !ok {
		return "", fmt.Errorf("model identifier %q must be of the form provider/model-name", model)
	}
	api, ok := c.apis[strings.ToLower(provider)]
	if !ok {
		return "", fmt.Errorf("no configured provider %q for model %q", provider, model)
	}

	chatMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:    name,
		Messages: chatMsgs,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("completion call to %s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no choices", model)
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteWithRetry calls the completer up to attempts times, sleeping
// delay between tries. A transport failure and an empty reply both
// count as a failed attempt. Exhaustion returns the last error.
func CompleteWithRetry(ctx context.Context, c Completer, model string, messages []Message, jsonMode bool, attempts int, delay time.Duration) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := c.Complete(ctx, model, messages, jsonMode)
		if err == nil && strings.TrimSpace(out) != "" {
			return out, nil
		}
		if err == nil {
			err = errors.New("empty response")
		}
		lastErr = err
		slog.Warn("completion attempt failed", "model", model, "attempt", attempt, "of", attempts, "error", err)
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return "", fmt.Errorf("no usable response from %s after %d attempts: %w", model, attempts, lastErr)
}
