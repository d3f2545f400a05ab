// Package tokens exchanges long-lived refresh tokens for short-lived access tokens.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
)

// Refresher returns an access token that is valid right now for account.
type Refresher interface {
	FreshAccessToken(ctx context.Context, account publish.Account) (string, error)
}

// GoogleRefresher runs the OAuth2 refresh-token grant against a Google-compatible token endpoint.
type GoogleRefresher struct {
	TokenURL string
	HTTP     *http.Client
}

// NewGoogleRefresher returns a refresher for tokenURL that sends requests through hc.
func NewGoogleRefresher(tokenURL string, hc *http.Client) *GoogleRefresher {
	return &GoogleRefresher{TokenURL: tokenURL, HTTP: hc}
}

// FreshAccessToken always performs a refresh; the access token stored on the account is ignored
// because this layer has no way to persist an expiry.
func (r *GoogleRefresher) FreshAccessToken(ctx context.Context, account publish.Account) (string, error) {
	creds, ok := account.Credentials.(publish.YouTubeCredentials)
	if !ok {
		return "", publish.ValidationError{Provider: "youtube", Reason: fmt.Sprintf("account %q has no youtube credentials", account.ID)}
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  r.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if r.HTTP != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTP)
	}

	logutil.Debugf("refreshing access token: account=%s", account.ID)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return "", &publish.StatusError{
				Provider:   "youtube",
				Step:       "refresh access token",
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       retrieveErrorBody(retrieveErr),
			}
		}
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", &publish.MissingFieldError{Provider: "youtube", Step: "refresh access token", Field: "access_token"}
	}
	return tok.AccessToken, nil
}

func retrieveErrorBody(err *oauth2.RetrieveError) string {
	switch {
	case err.ErrorDescription != "":
		return err.ErrorCode + ": " + err.ErrorDescription
	case err.ErrorCode != "":
		return err.ErrorCode
	default:
		return string(err.Body)
	}
}

// Static hands out a fixed token. It is meant for tests and dry runs.
type Static string

// FreshAccessToken returns the static token.
func (s Static) FreshAccessToken(context.Context, publish.Account) (string, error) {
	return string(s), nil
}
