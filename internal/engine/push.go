package engine

import (
	"context"
	"errors"
	"time"

	"github.com/TheVisher/Pawkit-sub009/internal/remote"
)

// pushLoop keeps a websocket subscription alive for one workspace,
// reconnecting with backoff. While push is down the engine is degraded
// but not broken; the poll loop remains the reliability backstop.
func (e *Engine) pushLoop(ctx context.Context, workspaceID string) {
	delay := e.config.ReconnectMin

	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := e.client.Subscribe(ctx, workspaceID)
		if err != nil {
			if errors.Is(err, remote.ErrUnauthorized) {
				e.logger.Println("Push subscription rejected for auth, re-verifying session")
				e.verifyIdentity(ctx)
				return
			}
			e.degraded.Store(true)
			e.logger.Printf("Push connect failed, retrying in %s: %v", delay, err)
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextDelay(delay, e.config.ReconnectMax)
			continue
		}

		e.pushActive.Store(true)
		e.degraded.Store(false)
		delay = e.config.ReconnectMin
		e.logger.Printf("Push active for workspace %s", workspaceID)

		e.consume(ctx, sub)

		e.pushActive.Store(false)
		if ctx.Err() != nil {
			sub.Close()
			return
		}
		e.degraded.Store(true)
		if err := sub.Err(); err != nil {
			e.logger.Printf("Push connection lost: %v", err)
		}
		sub.Close()
	}
}

// consume applies events from one subscription until it closes or the
// context is cancelled.
func (e *Engine) consume(ctx context.Context, sub *remote.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := e.applyEvent(ctx, ev); err != nil {
				e.logger.Printf("Warning: failed to apply push event for %s/%s: %v", ev.Kind, ev.ID, err)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextDelay(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}
