package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// ApplyFunc hands one decoded remote record batch entry to the reconciler
// path. Implemented by the engine.
type ApplyFunc func(ctx context.Context, result *ChangesResult) error

// WatermarkStore persists the per-workspace poll watermark. Implemented by
// the local store.
type WatermarkStore interface {
	GetWatermark(ctx context.Context, workspaceID string) (time.Time, error)
	SetWatermark(ctx context.Context, workspaceID string, t time.Time) error
}

// Poller periodically fetches "changed since watermark" batches for one
// workspace and funnels them through the same reconciler entry point the
// push transport uses.
//
// It is the correctness backstop: push transports can silently drop
// messages, so the poller runs even while push is healthy (at a longer
// interval) and is the only transport when push is down.
//
// The watermark advances only after a batch is fully processed; a crash
// mid-batch re-fetches the same batch. Re-application is idempotent thanks
// to the reconciler's version checks.
type Poller struct {
	client      *Client
	watermarks  WatermarkStore
	workspaceID string
	apply       ApplyFunc
	logger      *log.Logger

	// inFlight is an explicit re-entrancy guard: the interval ticker must
	// never stack a second fetch on top of a slow one.
	inFlight atomic.Bool
}

// ErrPollInFlight is returned by PollOnce when a previous poll for the
// same workspace has not finished yet.
var ErrPollInFlight = errors.New("remote: poll already in flight")

// NewPoller creates a poller for one workspace.
func NewPoller(client *Client, watermarks WatermarkStore, workspaceID string, apply ApplyFunc, logger *log.Logger) (*Poller, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if watermarks == nil {
		return nil, fmt.Errorf("watermarks cannot be nil")
	}
	if workspaceID == "" {
		return nil, fmt.Errorf("workspaceID cannot be empty")
	}
	if apply == nil {
		return nil, fmt.Errorf("apply cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[poll] ", log.LstdFlags)
	}
	return &Poller{
		client:      client,
		watermarks:  watermarks,
		workspaceID: workspaceID,
		apply:       apply,
		logger:      logger,
	}, nil
}

// Run polls at the given interval until ctx is cancelled. The engine
// cancels ctx on workspace switch, which also abandons any in-flight
// fetch: a stale response for the previous workspace is never applied.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil {
				if errors.Is(err, ErrPollInFlight) || errors.Is(err, context.Canceled) {
					continue
				}
				p.logger.Printf("Poll failed for workspace %s: %v", p.workspaceID, err)
			}
		}
	}
}

// PollOnce performs a single fetch-and-apply cycle.
func (p *Poller) PollOnce(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrPollInFlight
	}
	defer p.inFlight.Store(false)

	since, err := p.watermarks.GetWatermark(ctx, p.workspaceID)
	if err != nil {
		return fmt.Errorf("failed to load watermark: %w", err)
	}

	result, err := p.client.Changes(ctx, p.workspaceID, since, true)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		// Workspace switched (or shutdown) while the fetch was in
		// flight; the response belongs to a context that no longer
		// exists and must not be applied.
		return ctx.Err()
	}

	if len(result.Records) > 0 {
		if err := p.apply(ctx, result); err != nil {
			return fmt.Errorf("failed to apply poll batch: %w", err)
		}
	}

	if !result.ServerTime.IsZero() {
		if err := p.watermarks.SetWatermark(ctx, p.workspaceID, result.ServerTime); err != nil {
			return fmt.Errorf("failed to advance watermark: %w", err)
		}
	}
	return nil
}
