package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/hnguyen/mailbox/internal/config"
)

// GoogleClient is the slice of the OAuth provider the manager needs.
// Tests substitute a fake; production uses the x/oauth2 endpoints.
type GoogleClient interface {
	// AuthCodeURL builds the consent URL carrying the CSRF state.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for a token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// Refresh obtains a fresh token from a refresh token.
	Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
	// UserEmail resolves the authenticated account's address.
	UserEmail(ctx context.Context, token *oauth2.Token) (string, error)
}

type googleClient struct {
	conf *oauth2.Config
}

// NewGoogleClient builds the production OAuth client from the
// configured registration.
func NewGoogleClient(g config.Google) GoogleClient {
	return &googleClient{
		conf: &oauth2.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			Endpoint:     googleoauth.Endpoint,
			RedirectURL:  g.RedirectURL(),
			Scopes:       g.Scopes,
		},
	}
}

func (c *googleClient) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

func (c *googleClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	return token, nil
}

func (c *googleClient) Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	fresh, err := c.conf.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return fresh, nil
}

func (c *googleClient) UserEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	client := oauth2.NewClient(ctx, c.conf.TokenSource(ctx, token))
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return "", fmt.Errorf("creating Gmail service: %w", err)
	}
	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("resolving profile: %w", err)
	}
	return profile.EmailAddress, nil
}
