package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"go.uber.org/zap"

	"docqa/internal/metrics"
)

// PullEvent is one status line of a streaming model pull.
type PullEvent struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PullEvents yields the line-delimited JSON events of a pull response.
// Blank and malformed lines are skipped; a read failure is yielded once and
// ends the sequence.
func PullEvents(r io.Reader) iter.Seq2[PullEvent, error] {
	return func(yield func(PullEvent, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var ev PullEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(PullEvent{}, err)
		}
	}
}

// Pull asks the server to download model and follows the progress stream
// until the server closes it.
func (c *Client) Pull(ctx context.Context, model string) error {
	log := c.logger.With(zap.String("model", model))
	log.Info("pulling model")

	resp, err := c.post(ctx, "/api/pull", map[string]any{
		"model":  model,
		"name":   model,
		"stream": true,
	})
	if err != nil {
		return fmt.Errorf("pull %s: %w", model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull %s: %w", model, &APIError{Path: "/api/pull", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))})
	}

	last := ""
	for ev, err := range PullEvents(resp.Body) {
		if err != nil {
			return fmt.Errorf("pull %s: read progress: %w", model, err)
		}
		if ev.Error != "" {
			return fmt.Errorf("pull %s: %s", model, ev.Error)
		}
		if ev.Total > 0 {
			log.Debug("pull progress", zap.String("status", ev.Status), zap.Int64("completed", ev.Completed), zap.Int64("total", ev.Total))
		}
		if ev.Status != last {
			log.Info("pull status", zap.String("status", ev.Status))
			last = ev.Status
		}
	}
	metrics.ModelPulls.WithLabelValues(model).Inc()
	log.Info("model pulled")
	return nil
}
