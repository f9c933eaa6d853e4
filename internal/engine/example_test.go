package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/TheVisher/Pawkit-sub009/internal/engine"
	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/queue"
	"github.com/TheVisher/Pawkit-sub009/internal/remote"
	"github.com/TheVisher/Pawkit-sub009/internal/session"
	"github.com/TheVisher/Pawkit-sub009/internal/store"
)

// This example demonstrates wiring the engine for one identity.
// Note: This is for documentation only and won't run as a test.
func ExampleNew() {
	ctx := context.Background()

	var gate *session.Gate
	client, err := remote.NewClient(remote.Config{
		BaseURL: "https://api.pawkit.app",
		Token: func(ctx context.Context) (string, error) {
			return gate.Token(ctx)
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	gate, err = session.New(session.Config{
		Dir:      "/home/me/.local/share/pawkit",
		Verifier: client,
	})
	if err != nil {
		log.Fatal(err)
	}

	dbPath, err := gate.DatabasePath()
	if err != nil {
		log.Fatal(err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	if err := st.InitSchema(); err != nil {
		log.Fatal(err)
	}

	q, err := queue.New(st, client, queue.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}

	eng, err := engine.New(st, q, client, gate, engine.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}

	if err := eng.Start(ctx, "my-workspace"); err != nil {
		log.Fatal(err)
	}
	defer eng.Stop()

	fmt.Println("Engine running")
}

// This example demonstrates local-first mutations.
func ExampleEngine_Create() {
	var eng *engine.Engine // wired as in ExampleNew

	rec, err := eng.Create(context.Background(), model.KindCard, "my-workspace",
		json.RawMessage(`{"title":"Read later","url":"https://example.com"}`))
	if err != nil {
		log.Fatal(err)
	}

	// The record is stored and visible immediately; delivery to the
	// server happens in the background.
	fmt.Println("Created card", rec.ID)
}
