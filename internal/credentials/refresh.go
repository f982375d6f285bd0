package credentials

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// Well-known public OAuth client ids for the CLI-style "sign in" flows each
// provider exposes. These are not secrets — they identify the client
// application, not the user — and match the ids the corresponding official
// CLIs register.
const (
	anthropicOAuthClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	openaiOAuthClientID    = "app_EMoamEEZ73f0CkXaXp7hrann"
	googleOAuthClientID    = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	googleOAuthClientSecret = "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"
)

type refreshEndpoint struct {
	tokenURL     string
	clientID     string
	clientSecret string
}

var refreshEndpoints = map[string]refreshEndpoint{
	"anthropic": {tokenURL: "https://console.anthropic.com/v1/oauth/token", clientID: anthropicOAuthClientID},
	"openai":    {tokenURL: "https://auth.openai.com/oauth/token", clientID: openaiOAuthClientID},
	"google":    {tokenURL: "https://oauth2.googleapis.com/token", clientID: googleOAuthClientID, clientSecret: googleOAuthClientSecret},
}

// RefreshOAuth posts provider's stored refresh token to its token endpoint
// via an oauth2.TokenSource and persists the new triad. On an invalid_grant
// response the stored credential is removed (the user must re-authenticate)
// and an error is returned describing that. Other failures return an error
// without clearing the stored credential.
func (s *Store) RefreshOAuth(ctx context.Context, provider string) error {
	ep, ok := refreshEndpoints[provider]
	if !ok {
		return fmt.Errorf("credentials: %s has no OAuth refresh endpoint", provider)
	}
	rec, ok := s.ReadOAuth(provider)
	if !ok {
		return fmt.Errorf("credentials: no stored OAuth record for %s", provider)
	}
	if rec.Refresh == "" {
		return fmt.Errorf("credentials: stored OAuth record for %s has no refresh token", provider)
	}

	cfg := &oauth2.Config{
		ClientID:     ep.clientID,
		ClientSecret: ep.clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: ep.tokenURL},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.Refresh}).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.ErrorCode == "invalid_grant" {
			_ = s.Remove(provider)
			return fmt.Errorf("credentials: %s refresh token is invalid; user must re-authenticate", provider)
		}
		return fmt.Errorf("credentials: refreshing %s token: %w", provider, err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("credentials: %s refresh response missing access_token", provider)
	}

	newRec := OAuthRecord{
		Access:      tok.AccessToken,
		Refresh:     rec.Refresh,
		ExpiresAtMs: tok.Expiry.UnixMilli(),
	}
	if tok.RefreshToken != "" {
		newRec.Refresh = tok.RefreshToken
	}
	return s.WriteOAuth(provider, newRec)
}
