// Package reasoning adapts a text-in/JSON-out language model into typed
// trading verdicts. It owns prompt assembly, JSON extraction, fallback
// parsing, and response validation; raw model text never reaches control
// decisions.
package reasoning

import (
	"context"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const systemPrompt = "You are a quantitative trading analyst. You always answer with a single JSON object and nothing else."

// Client calls an OpenAI-compatible chat-completions endpoint. Every call
// carries its own deadline; transport failures degrade to conservative HOLD
// verdicts instead of propagating.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// Config holds the reasoning endpoint parameters.
type Config struct {
	Host    string
	ApiKey  string
	Model   string
	Timeout time.Duration
}

// NewClient creates a reasoning client against the configured host.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.ApiKey)
	apiCfg.BaseURL = cfg.Host

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "reasoning")),
	}
}

// AnalyzeEntry asks the model for an entry verdict. On transport error or
// deadline it returns HOLD with minimal confidence rather than an error.
func (c *Client) AnalyzeEntry(ctx context.Context, in EntryInput) domain.EntryVerdict {
	prompt := BuildEntryPrompt(in)

	text, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.WarnContext(ctx, "entry analysis failed, holding",
			slog.String("error", err.Error()),
		)
		return domain.EntryVerdict{
			Decision:          domain.DecisionHold,
			Confidence:        0.1,
			Reasoning:         "reasoning engine unavailable",
			SuggestedLeverage: 5,
			RiskLevel:         domain.RiskMedium,
			MarketSentiment:   domain.TrendNeutral,
		}
	}

	return ParseEntryVerdict(text)
}

// AnalyzePosition asks the model for a position-management verdict. Failures
// degrade to HOLD.
func (c *Client) AnalyzePosition(ctx context.Context, in PositionInput) domain.PositionVerdict {
	prompt := BuildPositionPrompt(in)

	text, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.WarnContext(ctx, "position analysis failed, holding",
			slog.String("error", err.Error()),
		)
		return domain.PositionVerdict{
			Action:     domain.ActionHold,
			Confidence: 0.1,
			Reasoning:  "reasoning engine unavailable",
			RiskLevel:  domain.RiskMedium,
		}
	}

	return ParsePositionVerdict(text)
}

// Health probes the endpoint with a trivial completion under a short
// deadline.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: 4,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	return err == nil
}

// complete sends one prompt under the per-call deadline and returns the raw
// text of the first choice.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", domain.ErrNotFound
	}
	return resp.Choices[0].Message.Content, nil
}
