package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/inference"
	"docqa/internal/logger"
	"docqa/internal/metrics"
)

// Client is an Ollama embeddings client implementing embedding.Embedder.
// The backend has no batch endpoint, so batches fan out one request per text.
type Client struct {
	transport   *inference.Client
	model       string
	dimension   int
	concurrency int
	pullSettle  time.Duration
	loadRetry   time.Duration
	pulls       singleflight.Group
	logger      *zap.Logger
}

// Config configures the embeddings client.
type Config struct {
	Model string
	// Concurrency caps in-flight requests during EmbedBatch; <= 0 means no cap.
	Concurrency int
	// PullSettle is the pause after a model pull before retrying.
	PullSettle time.Duration
	// LoadRetryDelay is the pause before retrying a request dropped while
	// the model was loading.
	LoadRetryDelay time.Duration
}

var _ embedding.Embedder = (*Client)(nil)

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(transport *inference.Client, cfg Config, log *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.PullSettle == 0 {
		cfg.PullSettle = 2 * time.Second
	}
	if cfg.LoadRetryDelay == 0 {
		cfg.LoadRetryDelay = 3 * time.Second
	}
	return &Client{
		transport:   transport,
		model:       cfg.Model,
		dimension:   embedding.DimensionFor(cfg.Model),
		concurrency: cfg.Concurrency,
		pullSettle:  cfg.PullSettle,
		loadRetry:   cfg.LoadRetryDelay,
		logger:      logger.OrNop(log).Named("embedding").With(zap.String("model", cfg.Model)),
	}
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "ollama" }

// Model returns the configured embedding model.
func (c *Client) Model() string { return c.model }

// Dimension returns the vector length declared for the model.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns an embedding vector for the given text. A missing model is
// pulled and a request dropped during model load is retried, once each.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	v, err := inference.CallWithRecovery(ctx, c.logger,
		func(ctx context.Context) ([]float64, error) { return c.embedOnce(ctx, text) },
		inference.Recovery{Reason: "model_not_found", Match: inference.IsModelNotFound, Action: c.pull},
		inference.Recovery{Reason: "model_loading", Match: inference.IsModelLoading, Action: inference.Wait(c.loadRetry)},
	)
	if err != nil {
		return nil, fmt.Errorf("embed (%s): %w", c.model, err)
	}
	return v, nil
}

// EmbedBatch embeds texts concurrently. The first failure cancels the rest
// and no partial result is returned.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for i, text := range texts {
		g.Go(func() error {
			v, err := c.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// pull shares one in-flight pull between concurrent callers that all hit a
// missing model.
func (c *Client) pull(ctx context.Context) error {
	_, err, _ := c.pulls.Do(c.model, func() (any, error) {
		return nil, c.transport.PullThenWait(c.model, c.pullSettle)(ctx)
	})
	return err
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float64, error) {
	type reqBody struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}
	var resp struct {
		Embedding json.RawMessage `json:"embedding"`
	}
	err := c.transport.PostJSON(ctx, "/api/embeddings", reqBody{Model: c.model, Prompt: text}, &resp)
	metrics.InferenceRequests.WithLabelValues("embed", c.model, metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 || string(resp.Embedding) == "null" {
		return nil, fmt.Errorf("%w: no embedding field", domain.ErrMalformedResponse)
	}
	var v []float64
	if err := json.Unmarshal(resp.Embedding, &v); err != nil {
		return nil, fmt.Errorf("%w: embedding is not an array of numbers", domain.ErrMalformedResponse)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", domain.ErrMalformedResponse)
	}
	return v, nil
}
