package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/l0p7/hnedge/internal/runtime/cache"
)

// revalidate schedules a refresh of key without blocking the caller. Without
// coalescing every stale hit schedules its own refresh.
func (e *Engine) revalidate(ctx context.Context, policy Policy, key string, produce Producer) {
	task := func(ctx context.Context) error {
		return e.refresh(ctx, policy, key, produce)
	}
	if e.coalesce {
		refresh := task
		task = func(ctx context.Context) error {
			_, err, shared := e.flights.Do(key, func() (any, error) {
				return nil, refresh(ctx)
			})
			if shared {
				e.logger.Debug("revalidation coalesced", slog.String("key", key))
			}
			return err
		}
	}
	e.tasks.Go(ctx, "revalidate", task)
}

// refresh replaces the record on success. On failure the existing record is
// left untouched and keeps being served until it expires.
func (e *Engine) refresh(ctx context.Context, policy Policy, key string, produce Producer) error {
	stored, err := e.reproduce(ctx, policy, produce)
	if err == nil {
		err = e.put(ctx, policy.Namespace, key, stored)
	}
	e.metrics.ObserveRevalidation(policy.Namespace, err == nil)
	if err != nil {
		return fmt.Errorf("revalidate %s: %w", key, err)
	}
	e.logger.Debug("record revalidated", slog.String("key", key))
	return nil
}

func (e *Engine) reproduce(ctx context.Context, policy Policy, produce Producer) (cache.Record, error) {
	resp, err := call(ctx, produce)
	if err != nil {
		return cache.Record{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		closeBody(resp)
		return cache.Record{}, fmt.Errorf("runtime: producer returned status %d", resp.StatusCode)
	}
	_, stored, err := Augment(resp, policy.TTL, policy.Stale, e.now())
	return stored, err
}
