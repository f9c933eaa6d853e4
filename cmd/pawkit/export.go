package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the workspace to YAML",
	Long: `Write every visible record in the workspace to a YAML document,
grouped by kind. The export reads only the local database, so it works
offline and reflects exactly what this device has.`,
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

		type exportRecord struct {
			ID      string         `yaml:"id"`
			Version int64          `yaml:"version"`
			Synced  bool           `yaml:"synced"`
			Data    map[string]any `yaml:"data"`
		}
		doc := struct {
			Workspace  string                  `yaml:"workspace"`
			ExportedAt string                  `yaml:"exportedAt"`
			Records    map[string][]exportRecord `yaml:"records"`
		}{
			Workspace:  workspace,
			ExportedAt: time.Now().Format(time.RFC3339),
			Records:    make(map[string][]exportRecord),
		}

		total := 0
		for _, kind := range []model.Kind{model.KindCard, model.KindCollection, model.KindEvent} {
			recs, err := app.engine.List(cmd.Context(), workspace, kind)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error listing %s records: %v\n", kind, err)
				os.Exit(1)
			}
			for _, rec := range recs {
				var data map[string]any
				if err := json.Unmarshal(rec.Data, &data); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: skipping %s/%s: %v\n", kind, rec.ID, err)
					continue
				}
				doc.Records[string(kind)] = append(doc.Records[string(kind)], exportRecord{
					ID:      rec.ID,
					Version: rec.Version,
					Synced:  rec.Synced,
					Data:    data,
				})
				total++
			}
		}

		out := os.Stdout
		if path, _ := cmd.Flags().GetString("output"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()
			out = f
		}

		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing export: %v\n", err)
			os.Exit(1)
		}
		enc.Close()

		if out != os.Stdout {
			fmt.Printf("%s Exported %d records\n", ui.RenderPass("✓"), total)
		}
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
}
