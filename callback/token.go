package callback

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// TokenSource mints OIDC identity tokens for a target audience. Implemented
// by the Google token source in production and by fakes in tests.
type TokenSource interface {
	Token(ctx context.Context, audience string) (string, error)
}

// GoogleTokenSource obtains identity tokens either from a service-account
// key file or from the platform's default credentials (workload identity).
// Sources are cached per audience; the underlying oauth2 source refreshes
// tokens as they expire, so every delivery carries a live token.
type GoogleTokenSource struct {
	// CredentialsFile is an optional service-account key path. Empty means
	// platform-default credentials.
	CredentialsFile string

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewGoogleTokenSource creates a token source. credentialsFile may be empty.
func NewGoogleTokenSource(credentialsFile string) *GoogleTokenSource {
	return &GoogleTokenSource{
		CredentialsFile: credentialsFile,
		sources:         make(map[string]oauth2.TokenSource),
	}
}

// Token implements TokenSource. The audience is normalized by stripping any
// trailing slash.
func (g *GoogleTokenSource) Token(ctx context.Context, audience string) (string, error) {
	audience = strings.TrimSuffix(audience, "/")

	g.mu.Lock()
	src, ok := g.sources[audience]
	g.mu.Unlock()

	if !ok {
		var opts []idtoken.ClientOption
		if g.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(g.CredentialsFile))
		}
		var err error
		src, err = idtoken.NewTokenSource(ctx, audience, opts...)
		if err != nil {
			return "", fmt.Errorf("create identity token source for %s: %w", audience, err)
		}
		g.mu.Lock()
		g.sources[audience] = src
		g.mu.Unlock()
	}

	token, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("fetch identity token for %s: %w", audience, err)
	}
	return token.AccessToken, nil
}

// StaticTokenSource returns a fixed token; used in local mode and tests.
type StaticTokenSource struct {
	Value string
}

// Token implements TokenSource.
func (s *StaticTokenSource) Token(context.Context, string) (string, error) {
	return s.Value, nil
}
