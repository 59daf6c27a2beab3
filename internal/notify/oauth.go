package notify

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// gmailScope is the scope Gmail requires for SMTP XOAUTH2.
const gmailScope = "https://mail.google.com/"

// GmailTokenSource turns a long-lived OAuth2 refresh token into short-lived
// access tokens for SMTP XOAUTH2. oauth2 caches the access token and refreshes
// it shortly before it expires.
func GmailTokenSource(ctx context.Context, clientID, clientSecret, refreshToken string) oauth2.TokenSource {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailScope},
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

func accessToken(ts oauth2.TokenSource) (string, error) {
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("notify: refreshing oauth2 token: %w", err)
	}
	if !tok.Valid() {
		return "", fmt.Errorf("notify: oauth2 token source returned an invalid token")
	}
	return tok.AccessToken, nil
}
