package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/TobiSchelling/pegasus/internal/config"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    Role
	Content string
}

// User returns a single-element user conversation.
func User(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}

// Chatter performs one chat completion against a named model.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []Message) (string, error)
}

// Client is a Chatter backed by a langchaingo model. The model name is
// passed per call so one client serves both primary and fallback.
type Client struct {
	model       llms.Model
	timeout     time.Duration
	temperature float64
}

// NewClient builds a client for the configured provider.
func NewClient(ctx context.Context, cfg config.LLM, apiKey string) (*Client, error) {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	if apiKey != "" {
		httpClient.Transport = &bearerTransport{token: apiKey, base: http.DefaultTransport}
	}

	var (
		model llms.Model
		err   error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		opts := []ollama.Option{
			ollama.WithModel(cfg.PrimaryModel),
			ollama.WithHTTPClient(httpClient),
		}
		if cfg.Host != "" {
			opts = append(opts, ollama.WithServerURL(cfg.Host))
		}
		model, err = ollama.New(opts...)
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("OpenAI API key not configured (set %s)", cfg.APIKeyEnv)
		}
		opts := []openai.Option{
			openai.WithToken(apiKey),
			openai.WithModel(cfg.PrimaryModel),
			openai.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		}
		if cfg.Host != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Host))
		}
		model, err = openai.New(opts...)
	case "googleai", "gemini":
		if apiKey == "" {
			return nil, fmt.Errorf("Google AI API key not configured (set %s)", cfg.APIKeyEnv)
		}
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(cfg.PrimaryModel),
		)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}

	log.Info().Str("provider", cfg.Provider).Str("model", cfg.PrimaryModel).Msg("LLM client ready")
	c := newClientFromModel(model, cfg.RequestTimeout)
	c.temperature = cfg.Temperature
	return c, nil
}

// newClientFromModel wraps an existing langchaingo model.
func newClientFromModel(model llms.Model, timeout time.Duration) *Client {
	return &Client{model: model, timeout: timeout, temperature: 0.3}
}

// Chat sends messages to model and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatType(m.Role), m.Content))
	}

	resp, err := c.model.GenerateContent(ctx, content,
		llms.WithModel(model),
		llms.WithTemperature(c.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices in response", model)
	}
	return resp.Choices[0].Content, nil
}

func chatType(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// bearerTransport authenticates requests to hosted Ollama endpoints.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(r)
}
