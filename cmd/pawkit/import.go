package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheVisher/Pawkit-sub009/internal/importer"
	"github.com/TheVisher/Pawkit-sub009/internal/ui"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import files from a directory as cards",
	Long: `Create one card per importable file (.md, .txt, .url) in the
given directory. Imported files are moved into a processed/
subdirectory. For continuous importing, set inbox_dir and run the
daemon.`,
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

		imp, err := importer.New(app.engine, args[0], workspace, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := imp.ImportOnce(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
			os.Exit(1)
		}
		app.drainOnce(cmd.Context())

		fmt.Printf("%s Import complete\n", ui.RenderPass("✓"))
	},
}
