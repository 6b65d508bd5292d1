package ollama

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/generation"
	"docqa/internal/inference"
	"docqa/internal/logger"
	"docqa/internal/metrics"
)

// DefaultTemperature is the sampling temperature used when none is configured.
const DefaultTemperature = 0.7

// Client calls the Ollama /api/generate endpoint without streaming.
type Client struct {
	transport   *inference.Client
	model       string
	temperature float64
	pullSettle  time.Duration
	logger      *zap.Logger
}

// Config configures the generation client.
type Config struct {
	Model string
	// Temperature is sent as options.temperature. Nil selects DefaultTemperature
	// so that an explicit zero survives.
	Temperature *float64
	PullSettle  time.Duration
}

var _ generation.Generator = (*Client)(nil)

// NewClient creates a generation client.
func NewClient(transport *inference.Client, cfg Config, log *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "llama2"
	}
	temp := DefaultTemperature
	if cfg.Temperature != nil {
		temp = *cfg.Temperature
	}
	if cfg.PullSettle == 0 {
		cfg.PullSettle = 2 * time.Second
	}
	return &Client{
		transport:   transport,
		model:       cfg.Model,
		temperature: temp,
		pullSettle:  cfg.PullSettle,
		logger:      logger.OrNop(log).Named("generation").With(zap.String("model", cfg.Model)),
	}
}

// Model returns the configured generation model.
func (c *Client) Model() string { return c.model }

// Temperature returns the sampling temperature sent with each request.
func (c *Client) Temperature() float64 { return c.temperature }

// Generate returns the model's completion for prompt. A missing model is
// pulled and the request repeated once.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := inference.CallWithRecovery(ctx, c.logger,
		func(ctx context.Context) (string, error) { return c.generateOnce(ctx, prompt) },
		inference.Recovery{
			Reason: "model_not_found",
			Match:  inference.IsModelNotFound,
			Action: c.transport.PullThenWait(c.model, c.pullSettle),
		},
	)
	if err != nil {
		return "", fmt.Errorf("generate (%s): %w", c.model, err)
	}
	return out, nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

func (c *Client) generateOnce(ctx context.Context, prompt string) (string, error) {
	var resp struct {
		Response *string `json:"response"`
	}
	start := time.Now()
	err := c.transport.PostJSON(ctx, "/api/generate", generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: generateOptions{Temperature: c.temperature},
	}, &resp)
	metrics.InferenceRequests.WithLabelValues("generate", c.model, metrics.Outcome(err)).Inc()
	if err != nil {
		return "", err
	}
	if resp.Response == nil {
		return "", fmt.Errorf("%w: no response field", domain.ErrMalformedResponse)
	}
	c.logger.Debug("generated completion",
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(*resp.Response)),
		zap.Duration("took", time.Since(start)))
	return *resp.Response, nil
}
