package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync state",
	Long: `Display the sync state of the local database.

Shows:
  - Cached identity and its trust state
  - Pending, failed, and conflicted queue items
  - Poll watermark for the configured workspace`,
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		ctx := cmd.Context()

		pending, err := app.store.CountQueue(ctx, model.StatusPending)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		failed, _ := app.store.CountQueue(ctx, model.StatusFailed)
		conflicts, _ := app.store.CountQueue(ctx, model.StatusConflict)

		fmt.Printf("\n%s Pawkit Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("   Identity:  %s (%s)\n", app.gate.UserID(), app.gate.State())
		fmt.Printf("   Database:  %s\n", app.store.Path())
		fmt.Printf("   Pending:   %d\n", pending)

		if failed > 0 {
			fmt.Printf("   Failed:    %s\n", ui.RenderWarn(fmt.Sprintf("%d (run 'pawkit queue' to inspect)", failed)))
		} else {
			fmt.Printf("   Failed:    0\n")
		}
		if conflicts > 0 {
			fmt.Printf("   Conflicts: %s\n", ui.RenderWarn(fmt.Sprintf("%d (run 'pawkit queue' to resolve)", conflicts)))
		} else {
			fmt.Printf("   Conflicts: 0\n")
		}

		if stat, err := app.store.GetCacheStat(ctx, string(model.KindCard)); err == nil && stat != nil {
			total := stat.Hits + stat.Misses
			fmt.Printf("   Lookups:   %d (%.0f%% hit)\n", total, float64(stat.Hits)/float64(total)*100)
		}

		if workspace, err := app.workspaceID(); err == nil {
			watermark, err := app.store.GetWatermark(ctx, workspace)
			if err == nil && !watermark.IsZero() {
				fmt.Printf("   Workspace: %s (synced through %s)\n", workspace, watermark.Format("2006-01-02 15:04:05"))
			} else {
				fmt.Printf("   Workspace: %s (never polled)\n", workspace)
			}
		}
		fmt.Println()
	},
}
