package oauthstate

import (
	"context"

	"github.com/flow-hydraulics/credential-vault/configs"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Provider is the OAuth provider a connection is made with.
type Provider interface {
	// NewState returns a fresh unguessable state value.
	NewState() string
	AuthCodeURL(state, redirectURI string) string
}

type GoogleProvider struct {
	config *oauth2.Config
}

var _ Provider = (*GoogleProvider)(nil)

func NewGoogleProvider(cfg *configs.Config) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       cfg.GoogleScopes,
		},
	}
}

func (p *GoogleProvider) NewState() string {
	return oauth2.GenerateVerifier()
}

// AuthCodeURL returns the consent page URL asking for offline access so that
// a refresh token is issued.
func (p *GoogleProvider) AuthCodeURL(state, redirectURI string) string {
	c := *p.config
	c.RedirectURL = redirectURI
	return c.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// TokenSource refreshes a stored token when it expires.
func (p *GoogleProvider) TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource {
	return p.config.TokenSource(ctx, t)
}
