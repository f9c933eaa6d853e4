package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/ui"
)

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Manage cards",
}

var cardAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a card",
	Long: `Create a card in the configured workspace. The card is saved
locally right away and synced in the background.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		workspace, err := app.workspaceID()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		body := map[string]any{"title": args[0]}
		if url, _ := cmd.Flags().GetString("url"); url != "" {
			body["url"] = url
		}
		if content, _ := cmd.Flags().GetString("content"); content != "" {
			body["content"] = content
		}
		payload, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rec, err := app.engine.Create(cmd.Context(), model.KindCard, workspace, payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating card: %v\n", err)
			os.Exit(1)
		}
		app.drainOnce(cmd.Context())

		fmt.Printf("%s Created card %s\n", ui.RenderPass("✓"), rec.ID)
	},
}

var cardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cards in the workspace",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		workspace, err := app.workspaceID()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		recs, err := app.engine.List(cmd.Context(), workspace, model.KindCard)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing cards: %v\n", err)
			os.Exit(1)
		}
		if len(recs) == 0 {
			fmt.Println("No cards")
			return
		}

		for _, rec := range recs {
			var body struct {
				Title string `json:"title"`
				URL   string `json:"url"`
			}
			_ = json.Unmarshal(rec.Data, &body)

			marker := ui.RenderPass("✓")
			if !rec.Synced {
				marker = ui.RenderWarn("…")
			}
			line := fmt.Sprintf("%s %s  %s", marker, rec.ID, body.Title)
			if body.URL != "" {
				line += "  " + ui.RenderDim(body.URL)
			}
			fmt.Println(line)
		}
	},
}

var cardRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a card",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		if err := app.engine.Delete(cmd.Context(), model.KindCard, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting card: %v\n", err)
			os.Exit(1)
		}
		app.drainOnce(cmd.Context())

		fmt.Printf("%s Deleted card %s\n", ui.RenderPass("✓"), args[0])
	},
}

func init() {
	cardAddCmd.Flags().String("url", "", "bookmark URL")
	cardAddCmd.Flags().String("content", "", "note content")

	cardCmd.AddCommand(cardAddCmd)
	cardCmd.AddCommand(cardListCmd)
	cardCmd.AddCommand(cardRemoveCmd)
}
