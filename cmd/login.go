package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hnguyen/mailbox/internal/auth"
	"github.com/hnguyen/mailbox/internal/model"
)

func newLoginCmd() *cobra.Command {
	var method string
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate an account and store its credential",
		Long: `Authenticate with one of three methods:

  oauth         Google OAuth consent flow in the browser (default)
  app_password  Gmail IMAP/SMTP with an app password
  zoho          Zoho IMAP/SMTP with a password

The credential is encrypted and stored locally so later runs can
restore the session without logging in again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			m := model.AuthMethod(method)
			if !m.Valid() {
				return fmt.Errorf("unknown auth method %q (oauth, app_password, zoho)", method)
			}

			var session *auth.Session
			switch m {
			case model.AuthMethodOAuth:
				session, err = a.Auth.LoginOAuth(cmd.Context(), openBrowser)
			default:
				if email == "" {
					email, err = promptLine("Email address: ")
					if err != nil {
						return err
					}
				}
				var password string
				password, err = promptPassword("Password: ")
				if err != nil {
					return err
				}
				session, err = a.Auth.LoginPassword(cmd.Context(), m, email, password)
			}

			a.Telemetry.Metrics().RecordAuthFlow(cmd.Context(), method, err == nil)
			if err != nil {
				return err
			}

			fmt.Printf("Logged in as %s (%s)\n", session.Email, session.Method)
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "oauth", "Authentication method: oauth, app_password, or zoho")
	cmd.Flags().StringVar(&email, "email", "", "Account email address (prompted if omitted)")
	return cmd
}

// openBrowser prints the consent URL and tries to open it in the
// default browser. Printing is the fallback when no opener exists.
func openBrowser(url string) error {
	fmt.Printf("Open this URL to authorize:\n\n  %s\n\n", url)

	var opener string
	switch runtime.GOOS {
	case "darwin":
		opener = "open"
	case "windows":
		opener = "rundll32"
	default:
		opener = "xdg-open"
	}

	args := []string{url}
	if runtime.GOOS == "windows" {
		args = []string{"url.dll,FileProtocolHandler", url}
	}
	// Best effort; the printed URL is enough to proceed.
	_ = exec.Command(opener, args...).Start()
	return nil
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}
