// Package engine orchestrates the local-first sync lifecycle.
//
// # Overview
//
// The engine owns one identity's store, its sync queue, and the two
// remote transports, and keeps them converging on the server's state
// without ever losing a local edit:
//
//	            ┌──────────────┐
//	 UI ops ───▶│    Engine    │───▶ Store (SQLite, source of truth)
//	            │              │
//	            │  drain loop ─┼───▶ Queue ───▶ POST /api/sync/write
//	            │  poll loop  ─┼───▶ GET  /api/sync/changes
//	            │  push loop  ─┼───▶ WS   /api/sync/subscribe
//	            └──────┬───────┘
//	                   │ events
//	                   ▼
//	             Reconciler ───▶ apply / ignore / hard-delete
//
// Every local mutation is written to the store first and enqueued for
// delivery second; the UI never waits for the network. Remote changes
// arrive over the websocket when it is up and over the poll loop always;
// both funnel through the same reconciler, so a change observed twice is
// applied once.
//
// # Lifecycle
//
// Start launches the drain, poll, and push loops for the configured
// workspace. Switching workspaces cancels the old loops before starting
// new ones, so a slow response from the previous workspace can never be
// applied to the new one. When the server rejects the session the engine
// stops syncing and reports StateRejected; the caller tears down.
//
// # Usage
//
//	eng, err := engine.New(st, q, client, gate, engine.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.Start(ctx, workspaceID); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
//	rec, err := eng.Create(ctx, model.KindCard, workspaceID, payload)
package engine
