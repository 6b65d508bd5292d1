package inference

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docqa/internal/metrics"
)

// Recovery pairs a failure classifier with the action that may clear the
// failure before the call is repeated.
type Recovery struct {
	Reason string
	Match  func(error) bool
	Action func(ctx context.Context) error
}

// CallWithRecovery runs call once. If it fails with an error matched by one
// of recoveries, the first matching action runs and call is repeated exactly
// once; the outcome of that second attempt is final.
func CallWithRecovery[T any](ctx context.Context, log *zap.Logger, call func(context.Context) (T, error), recoveries ...Recovery) (T, error) {
	v, err := call(ctx)
	if err == nil {
		return v, nil
	}
	for _, r := range recoveries {
		if !r.Match(err) {
			continue
		}
		if log != nil {
			log.Warn("recoverable inference failure, retrying once", zap.String("reason", r.Reason), zap.Error(err))
		}
		metrics.Recoveries.WithLabelValues(r.Reason).Inc()
		if r.Action != nil {
			if aerr := r.Action(ctx); aerr != nil {
				var zero T
				return zero, fmt.Errorf("%s: %w", r.Reason, aerr)
			}
		}
		return call(ctx)
	}
	return v, err
}

// PullThenWait is the recovery action for a missing model: pull it, then give
// the server a moment to register it.
func (c *Client) PullThenWait(model string, settle time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := c.Pull(ctx, model); err != nil {
			return err
		}
		return Sleep(ctx, settle)
	}
}

// Wait is the recovery action for a model that is still loading.
func Wait(d time.Duration) func(context.Context) error {
	return func(ctx context.Context) error { return Sleep(ctx, d) }
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
