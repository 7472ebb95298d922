package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hnguyen/mailbox/internal/auth"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication state and cache contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			session, err := a.Auth.AttemptRestore(cmd.Context())
			switch {
			case errors.Is(err, auth.ErrRestoreFailed):
				fmt.Printf("Account:  stored credential unusable (%v)\n", err)
			case err != nil:
				return err
			case session == nil:
				fmt.Println("Account:  not logged in")
			default:
				fmt.Printf("Account:  %s (%s)\n", session.Email, session.Method)
			}

			msgs, err := a.Store.CountMessages(cmd.Context())
			if err != nil {
				return err
			}
			events, err := a.Store.CountEvents(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Messages: %d cached\n", msgs)
			fmt.Printf("Events:   %d cached\n", events)
			fmt.Printf("Database: %s\n", a.Config.DatabasePath)

			recent, err := a.Store.ListMessages(cmd.Context(), 0, 5)
			if err != nil {
				return err
			}
			if len(recent) > 0 {
				fmt.Println("\nRecent messages:")
				for _, m := range recent {
					fmt.Printf("  %s  %-30.30s  %s\n",
						m.Date.Local().Format("2006-01-02 15:04"), m.From, m.Subject)
				}
			}
			return nil
		},
	}
}
