package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/ui"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Manage calendar events",
}

var eventAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add a calendar event from natural language",
	Long: `Create a calendar event. The date and time are parsed from the
text itself, so quick entries work:

  pawkit event add "Dentist tomorrow at 3pm"
  pawkit event add "Standup every weekday" --at "2026-09-02T09:00:00Z"

An explicit --at overrides anything parsed from the text.`,
	Args: cobra.MinimumNArgs(1),
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

		text := strings.Join(args, " ")
		title := text
		var startsAt time.Time

		if at, _ := cmd.Flags().GetString("at"); at != "" {
			startsAt, err = time.Parse(time.RFC3339, at)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: --at must be RFC 3339, got %q\n", at)
				os.Exit(1)
			}
		} else {
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)

			result, err := w.Parse(text, time.Now())
			if err != nil || result == nil {
				fmt.Fprintf(os.Stderr, "Error: no date found in %q, pass --at\n", text)
				os.Exit(1)
			}
			startsAt = result.Time
			// The date phrase stays out of the title.
			title = strings.TrimSpace(text[:result.Index] + text[result.Index+len(result.Text):])
			if title == "" {
				title = text
			}
		}

		payload, err := json.Marshal(map[string]any{
			"title":    title,
			"startsAt": startsAt.Format(time.RFC3339),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rec, err := app.engine.Create(cmd.Context(), model.KindEvent, workspace, payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating event: %v\n", err)
			os.Exit(1)
		}
		app.drainOnce(cmd.Context())

		fmt.Printf("%s Created event %s at %s\n",
			ui.RenderPass("✓"), rec.ID, startsAt.Format("2006-01-02 15:04"))
	},
}

var eventListCmd = &cobra.Command{
	Use:   "list",
	Short: "List calendar events in the workspace",
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

		recs, err := app.engine.List(cmd.Context(), workspace, model.KindEvent)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing events: %v\n", err)
			os.Exit(1)
		}
		if len(recs) == 0 {
			fmt.Println("No events")
			return
		}

		for _, rec := range recs {
			var body struct {
				Title    string `json:"title"`
				StartsAt string `json:"startsAt"`
			}
			_ = json.Unmarshal(rec.Data, &body)

			marker := ui.RenderPass("✓")
			if !rec.Synced {
				marker = ui.RenderWarn("…")
			}
			fmt.Printf("%s %s  %s  %s\n", marker, rec.ID, body.StartsAt, body.Title)
		}
	},
}

func init() {
	eventAddCmd.Flags().String("at", "", "event start time (RFC 3339)")

	eventCmd.AddCommand(eventAddCmd)
	eventCmd.AddCommand(eventListCmd)
}
