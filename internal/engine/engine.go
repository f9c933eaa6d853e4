package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/queue"
	"github.com/TheVisher/Pawkit-sub009/internal/remote"
	"github.com/TheVisher/Pawkit-sub009/internal/session"
	"github.com/TheVisher/Pawkit-sub009/internal/store"
)

// Config holds engine tuning knobs.
type Config struct {
	// PollInterval is the delta-poll cadence. Default: 30s.
	PollInterval time.Duration

	// DrainInterval is how often the queue is drained when no mutation
	// kicks it sooner. Default: 5s.
	DrainInterval time.Duration

	// PushEnabled controls the websocket transport. The poll loop runs
	// either way. Default: true.
	PushEnabled bool

	// ReconnectMin and ReconnectMax bound the websocket reconnect
	// backoff. Defaults: 1s and 60s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Logger for engine activity. Default: stderr logger.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  30 * time.Second,
		DrainInterval: 5 * time.Second,
		PushEnabled:   true,
		ReconnectMin:  time.Second,
		ReconnectMax:  60 * time.Second,
		Logger:        log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Status is a point-in-time snapshot of the engine for status surfaces.
type Status struct {
	State       session.State
	WorkspaceID string
	Pending     int
	Failed      int
	Conflicts   int
	PushActive  bool
	Degraded    bool
	Watermark   time.Time
}

// Engine coordinates the store, queue, and transports for one identity.
type Engine struct {
	store  *store.Store
	queue  *queue.Queue
	client *remote.Client
	gate   *session.Gate
	config Config
	logger *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// drainCh kicks the drain loop ahead of its ticker after a mutation.
	drainCh chan struct{}

	mu          sync.Mutex
	workspaceID string
	wsCancel    context.CancelFunc
	wsWG        *sync.WaitGroup
	// activeSubs guards against a second subscription for a workspace
	// that already has one.
	activeSubs map[string]bool

	// deferred holds delete events parked behind a pending local edit,
	// replayed after the next successful drain.
	deferredMu sync.Mutex
	deferred   map[deferKey]*model.Event

	pushActive atomic.Bool
	degraded   atomic.Bool
	rejected   atomic.Bool
	started    bool
}

type deferKey struct {
	kind model.Kind
	id   string
}

// New creates an engine over an opened store and its companions.
func New(st *store.Store, q *queue.Queue, client *remote.Client, gate *session.Gate, config Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate cannot be nil")
	}
	if config.PollInterval == 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.DrainInterval == 0 {
		config.DrainInterval = 5 * time.Second
	}
	if config.ReconnectMin == 0 {
		config.ReconnectMin = time.Second
	}
	if config.ReconnectMax == 0 {
		config.ReconnectMax = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		store:      st,
		queue:      q,
		client:     client,
		gate:       gate,
		config:     config,
		logger:     config.Logger,
		drainCh:    make(chan struct{}, 1),
		activeSubs: make(map[string]bool),
		deferred:   make(map[deferKey]*model.Event),
	}, nil
}

// Start launches the drain loop and the transports for the given
// workspace. It returns immediately; loops run until Stop.
func (e *Engine) Start(ctx context.Context, workspaceID string) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	if e.gate.State() == session.StateUninitialized {
		e.mu.Unlock()
		return session.ErrNoSession
	}
	e.started = true
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.drainLoop(runCtx)
	}()

	// Background identity check. A rejection here stops sync; a
	// transient failure leaves the fast path trusted.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.verifyIdentity(runCtx)
	}()

	return e.startWorkspace(runCtx, workspaceID)
}

// Stop cancels all loops and waits for them to exit. The store stays
// open; closing it is the caller's job.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.stopWorkspace()
	e.wg.Wait()
	e.logger.Println("Engine stopped")
}

// SetWorkspace switches the transports to a different workspace. The old
// workspace's loops are cancelled first, so a late response from them is
// never applied under the new workspace.
func (e *Engine) SetWorkspace(ctx context.Context, workspaceID string) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine not started")
	}
	if workspaceID == e.workspaceID {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.stopWorkspace()
	e.dropDeferred()
	return e.startWorkspace(ctx, workspaceID)
}

// WorkspaceID returns the active workspace.
func (e *Engine) WorkspaceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workspaceID
}

// startWorkspace launches the poll and push loops scoped to one
// workspace under their own cancellable context.
func (e *Engine) startWorkspace(parent context.Context, workspaceID string) error {
	if workspaceID == "" {
		return fmt.Errorf("workspaceID cannot be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeSubs[workspaceID] {
		return fmt.Errorf("workspace %s already has an active subscription", workspaceID)
	}

	wsCtx, cancel := context.WithCancel(parent)
	wsWG := &sync.WaitGroup{}
	e.workspaceID = workspaceID
	e.wsCancel = cancel
	e.wsWG = wsWG
	e.activeSubs[workspaceID] = true

	poller, err := remote.NewPoller(e.client, e.store, workspaceID, e.applyChanges, e.logger)
	if err != nil {
		cancel()
		delete(e.activeSubs, workspaceID)
		return err
	}

	wsWG.Add(1)
	go func() {
		defer wsWG.Done()
		poller.Run(wsCtx, e.config.PollInterval)
	}()

	if e.config.PushEnabled {
		wsWG.Add(1)
		go func() {
			defer wsWG.Done()
			e.pushLoop(wsCtx, workspaceID)
		}()
	}

	e.logger.Printf("Workspace %s active (push=%v, poll every %s)",
		workspaceID, e.config.PushEnabled, e.config.PollInterval)
	return nil
}

func (e *Engine) stopWorkspace() {
	e.mu.Lock()
	cancel := e.wsCancel
	wg := e.wsWG
	ws := e.workspaceID
	e.wsCancel = nil
	e.wsWG = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wg != nil {
		wg.Wait()
	}
	if ws != "" {
		e.mu.Lock()
		delete(e.activeSubs, ws)
		e.mu.Unlock()
	}
	e.pushActive.Store(false)
}

// Kick requests a drain ahead of the next tick.
func (e *Engine) Kick() {
	select {
	case e.drainCh <- struct{}{}:
	default:
	}
}

func (e *Engine) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.drainCh:
		}
		if e.rejected.Load() {
			continue
		}
		if err := e.queue.Drain(ctx); err != nil {
			e.handleDrainError(ctx, err)
			continue
		}
		e.replayDeferred(ctx)
	}
}

func (e *Engine) handleDrainError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if err == remote.ErrUnauthorized {
		e.logger.Println("Drain rejected for auth, re-verifying session")
		e.verifyIdentity(ctx)
		return
	}
	e.logger.Printf("Warning: drain failed: %v", err)
}

// verifyIdentity runs the gate's network check. A rejection or identity
// mismatch stops all syncing; the caller observes StateRejected in
// Status and tears down.
func (e *Engine) verifyIdentity(ctx context.Context) {
	err := e.gate.Verify(ctx)
	if err == nil {
		return
	}
	if e.gate.State() == session.StateRejected {
		e.rejected.Store(true)
		e.logger.Printf("Session rejected, sync halted: %v", err)
		// Detached: verifyIdentity can run on a workspace goroutine, and
		// stopWorkspace waits for those to exit.
		go e.stopWorkspace()
	}
}

// Status returns a snapshot for status surfaces.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	e.mu.Lock()
	ws := e.workspaceID
	e.mu.Unlock()

	pending, err := e.store.CountQueue(ctx, model.StatusPending)
	if err != nil {
		return nil, err
	}
	failed, err := e.store.CountQueue(ctx, model.StatusFailed)
	if err != nil {
		return nil, err
	}
	conflicts, err := e.store.CountQueue(ctx, model.StatusConflict)
	if err != nil {
		return nil, err
	}
	watermark, err := e.store.GetWatermark(ctx, ws)
	if err != nil {
		return nil, err
	}

	return &Status{
		State:       e.gate.State(),
		WorkspaceID: ws,
		Pending:     pending,
		Failed:      failed,
		Conflicts:   conflicts,
		PushActive:  e.pushActive.Load(),
		Degraded:    e.degraded.Load(),
		Watermark:   watermark,
	}, nil
}

// Changes exposes the store's local change feed so a UI can refresh
// views when records change under it.
func (e *Engine) Changes() (<-chan store.Change, func()) {
	return e.store.Subscribe()
}

// Queue exposes the sync queue for failed-set and conflict management.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}
