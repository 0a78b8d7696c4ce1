package vault

import (
	"context"

	"github.com/flow-hydraulics/credential-vault/analytics"
	"github.com/flow-hydraulics/credential-vault/oauthstate"
	"golang.org/x/oauth2"
)

// GoogleProvider builds consent URLs and refreshes stored tokens.
type GoogleProvider interface {
	oauthstate.Provider
	TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource
}

type ServiceOption func(*Service)

func WithAnalytics(sink analytics.Sink) ServiceOption {
	return func(svc *Service) {
		svc.sink = sink
	}
}

func WithGoogleProvider(p GoogleProvider) ServiceOption {
	return func(svc *Service) {
		svc.google = p
	}
}
