// Package cmd implements the mailbox command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hnguyen/mailbox/internal/app"
)

// rootCmd represents the base command for the mailbox application
var rootCmd = &cobra.Command{
	Use:   "mailbox",
	Short: "Terminal email and calendar client for Gmail and Zoho",
	Long: `mailbox keeps a local cache of your email and calendar in sync.

It authenticates with Google OAuth, a Gmail app password, or Zoho IMAP
credentials, stores them encrypted, and syncs messages and events into
a local SQLite database.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailbox version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newStatusCmd())
}

// newApp assembles the application for a command invocation.
func newApp(cmd *cobra.Command) (*app.App, error) {
	a, err := app.New(cmd.Context(), version)
	if err != nil {
		return nil, fmt.Errorf("initializing: %w", err)
	}
	return a, nil
}
