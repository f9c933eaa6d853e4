package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheVisher/Pawkit-sub009/internal/remote"
	"github.com/TheVisher/Pawkit-sub009/internal/session"
	"github.com/TheVisher/Pawkit-sub009/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and cache the session on this device",
	Long: `Sign in to the sync server. The session token and identity are
cached locally so later commands and the daemon start without waiting
for the network.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		email, password, err := promptCredentials()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading credentials: %v\n", err)
			os.Exit(1)
		}

		client, err := remote.NewClient(remote.Config{
			BaseURL: cfg.ServerURL,
			Token: func(ctx context.Context) (string, error) {
				return "", nil // no session yet
			},
			Logger: log.New(io.Discard, "", 0),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		result, err := client.Login(cmd.Context(), email, password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error signing in: %v\n", err)
			os.Exit(1)
		}

		gate, err := session.New(session.Config{
			Dir:      cfg.DataDir,
			Verifier: client,
			Logger:   log.New(io.Discard, "", 0),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := gate.SignIn(result.UserID, result.Token); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving session: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), result.UserID)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove this identity's local data",
	Long: `Sign out of the sync server. The cached session and this
identity's local database are removed; undelivered local edits are
discarded.`,
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		userID := app.gate.UserID()

		// The database must be closed before its files are removed.
		app.Close()
		if err := app.gate.SignOut(); err != nil {
			fmt.Fprintf(os.Stderr, "Error signing out: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Signed out %s\n", ui.RenderPass("✓"), userID)
	},
}

// promptCredentials asks for email and password, using the interactive
// form on a terminal and plain reads when piped.
func promptCredentials() (email, password string, err error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Email").
					Value(&email),
				huh.NewInput().
					Title("Password").
					EchoMode(huh.EchoModePassword).
					Value(&password),
			),
		)
		if err := form.Run(); err != nil {
			return "", "", err
		}
		return strings.TrimSpace(email), password, nil
	}

	fmt.Print("Email: ")
	if _, err := fmt.Scanln(&email); err != nil {
		return "", "", err
	}
	fmt.Print("Password: ")
	if _, err := fmt.Scanln(&password); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(email), password, nil
}
