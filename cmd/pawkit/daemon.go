package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/TheVisher/Pawkit-sub009/internal/importer"
	"github.com/TheVisher/Pawkit-sub009/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the sync engine in the foreground until interrupted.

The daemon:
  1. Drains queued local edits to the server
  2. Subscribes to live changes over websocket
  3. Polls for missed changes as a backstop
  4. Optionally watches an inbox directory for files to import`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.New(os.Stderr, "[pawkit] ", log.LstdFlags)

		app, err := openApp(cmd, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		if app.cfg.LogFile != "" {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   app.cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			})
		}

		workspace, err := app.workspaceID()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := app.engine.Start(ctx, workspace); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
			os.Exit(1)
		}

		if app.cfg.InboxDir != "" {
			imp, err := importer.New(app.engine, app.cfg.InboxDir, workspace, &importer.Config{
				Logger: logger,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			go func() {
				if err := imp.Start(ctx); err != nil {
					logger.Printf("Importer stopped: %v", err)
				}
			}()
		}

		fmt.Printf("%s Sync daemon running for workspace %s (Ctrl-C to stop)\n",
			ui.RenderAccent("🚀"), workspace)

		<-ctx.Done()
		app.engine.Stop()
		fmt.Printf("%s Daemon stopped\n", ui.RenderPass("✓"))
	},
}
