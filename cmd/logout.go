package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogoutCmd() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session and optionally delete stored data",
		Long: `Drop the active session. With --clear the stored credential and the
local message and event caches are deleted as well, so the next start
has to log in from scratch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			if err := a.Auth.Logout(cmd.Context(), clear); err != nil {
				return err
			}

			if clear {
				if _, err := a.Store.DeleteAllMessages(cmd.Context()); err != nil {
					return fmt.Errorf("clearing message cache: %w", err)
				}
				if _, err := a.Store.DeleteAllEvents(cmd.Context()); err != nil {
					return fmt.Errorf("clearing event cache: %w", err)
				}
				fmt.Println("Logged out; credential and caches cleared.")
				return nil
			}

			fmt.Println("Logged out.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Also delete the stored credential and local caches")
	return cmd
}
