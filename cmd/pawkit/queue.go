package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and resolve undelivered edits",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		ctx := cmd.Context()

		pending, err := app.store.ListQueue(ctx, model.StatusPending)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		failed, _ := app.queue.Failed(ctx)
		conflicts, _ := app.queue.Conflicts(ctx)

		if len(pending) == 0 && len(failed) == 0 && len(conflicts) == 0 {
			fmt.Printf("%s Queue empty, everything delivered\n", ui.RenderPass("✓"))
			return
		}

		if len(pending) > 0 {
			fmt.Printf("\n%s Pending\n", ui.RenderAccent("…"))
			for _, item := range pending {
				fmt.Printf("   %s %s/%s (attempt %d)\n", item.Operation, item.Kind, item.EntityID, item.Attempts)
			}
		}
		if len(failed) > 0 {
			fmt.Printf("\n%s Failed (retry with 'pawkit queue retry <kind> <id>')\n", ui.RenderWarn("⚠"))
			for _, item := range failed {
				fmt.Printf("   %s %s/%s: %s\n", item.Operation, item.Kind, item.EntityID, item.LastError)
			}
		}
		if len(conflicts) > 0 {
			fmt.Printf("\n%s Conflicts (retry to overwrite, discard to take the server's copy)\n", ui.RenderWarn("⚠"))
			for _, c := range conflicts {
				line := fmt.Sprintf("   %s %s/%s", c.Item.Operation, c.Item.Kind, c.Item.EntityID)
				if c.Server != nil {
					line += fmt.Sprintf(" (server at v%d)", c.Server.Version)
				}
				fmt.Println(line)
			}
		}
		fmt.Println()
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <kind> <id>",
	Short: "Re-queue a failed or conflicted edit for delivery",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		kind := model.Kind(args[0])
		if !kind.Valid() {
			fmt.Fprintf(os.Stderr, "Error: unknown kind %q\n", args[0])
			os.Exit(1)
		}

		// A conflicted item retried against the server's current version
		// becomes a deliberate overwrite.
		var serverVersion int64
		conflicts, _ := app.queue.Conflicts(cmd.Context())
		for _, c := range conflicts {
			if c.Item.Kind == kind && c.Item.EntityID == args[1] && c.Server != nil {
				serverVersion = c.Server.Version
			}
		}

		if err := app.queue.Retry(cmd.Context(), kind, args[1], serverVersion); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		app.drainOnce(cmd.Context())

		fmt.Printf("%s Re-queued %s/%s\n", ui.RenderPass("✓"), kind, args[1])
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <kind> <id>",
	Short: "Drop a failed or conflicted edit",
	Long: `Drop a queued edit without delivering it. For a conflict, the
server's copy is applied locally so this device converges with everyone
else.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		kind := model.Kind(args[0])
		if !kind.Valid() {
			fmt.Fprintf(os.Stderr, "Error: unknown kind %q\n", args[0])
			os.Exit(1)
		}

		// Take the server's copy before dropping the local edit.
		conflicts, _ := app.queue.Conflicts(cmd.Context())
		for _, c := range conflicts {
			if c.Item.Kind == kind && c.Item.EntityID == args[1] && c.Server != nil {
				if err := app.store.PutRecord(cmd.Context(), c.Server); err != nil {
					fmt.Fprintf(os.Stderr, "Error applying server record: %v\n", err)
					os.Exit(1)
				}
			}
		}

		if err := app.queue.Discard(cmd.Context(), kind, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Discarded %s/%s\n", ui.RenderPass("✓"), kind, args[1])
	},
}

func init() {
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueDiscardCmd)
}
