package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheVisher/Pawkit-sub009/internal/config"
	"github.com/TheVisher/Pawkit-sub009/internal/engine"
	"github.com/TheVisher/Pawkit-sub009/internal/queue"
	"github.com/TheVisher/Pawkit-sub009/internal/remote"
	"github.com/TheVisher/Pawkit-sub009/internal/session"
	"github.com/TheVisher/Pawkit-sub009/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "pawkit",
	Short: "Local-first sync for your cards, collections, and events",
	Long: `Pawkit keeps a local SQLite copy of your cards, collections, and
calendar events, applies every edit locally first, and syncs with the
server in the background. Edits made offline are queued and delivered
when connectivity returns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("server-url", "", "sync server base URL")
	rootCmd.PersistentFlags().String("data-dir", "", "local data directory")
	rootCmd.PersistentFlags().String("workspace", "", "workspace id")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cardCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(queueCmd)
}

// app bundles the wired-up components a command needs.
type app struct {
	cfg    *config.Config
	gate   *session.Gate
	client *remote.Client
	store  *store.Store
	queue  *queue.Queue
	engine *engine.Engine
}

// loadConfig resolves settings for one command invocation.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd.Flags())
}

// openApp wires the full stack for a signed-in identity. Commands that
// only need the remote client (login) build it themselves.
func openApp(cmd *cobra.Command, logger *log.Logger) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	// The gate supplies tokens to the client and the client performs the
	// gate's identity checks; the closure breaks the construction cycle.
	var gate *session.Gate
	client, err := remote.NewClient(remote.Config{
		BaseURL: cfg.ServerURL,
		Token: func(ctx context.Context) (string, error) {
			return gate.Token(ctx)
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	gate, err = session.New(session.Config{
		Dir:      cfg.DataDir,
		Verifier: client,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	if gate.State() == session.StateUninitialized {
		return nil, fmt.Errorf("not signed in, run 'pawkit login' first")
	}

	dbPath, err := gate.DatabasePath()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, err
	}

	qcfg := queue.DefaultConfig()
	qcfg.Logger = logger
	q, err := queue.New(st, client, qcfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	ecfg := engine.DefaultConfig()
	ecfg.PollInterval = cfg.PollInterval
	ecfg.DrainInterval = cfg.DrainInterval
	ecfg.PushEnabled = cfg.PushEnabled
	ecfg.Logger = logger
	eng, err := engine.New(st, q, client, gate, ecfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{cfg: cfg, gate: gate, client: client, store: st, queue: q, engine: eng}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// workspaceID resolves the workspace for a command, preferring the flag
// over the config file.
func (a *app) workspaceID() (string, error) {
	if a.cfg.Workspace == "" {
		return "", fmt.Errorf("no workspace configured, pass --workspace or set it in pawkit.yaml")
	}
	return a.cfg.Workspace, nil
}

// drainOnce pushes pending mutations for one-shot commands so a quick
// 'pawkit card add' on a good connection syncs before exit. Failures
// are fine; the daemon or the next command retries.
func (a *app) drainOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = a.queue.Drain(ctx)
}
