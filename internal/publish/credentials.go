package publish

import (
	"fmt"
	"slices"
	"strings"
)

// Credentials is the closed set of per-provider credential shapes.
type Credentials interface {
	// Provider names the network these credentials belong to.
	Provider() Provider
	// Validate reports missing or malformed fields.
	Validate() error

	sealed()
}

// Account is an opaque credential bundle owned by the caller. This layer never mutates it.
type Account struct {
	ID          string
	Credentials Credentials
}

// NewAccount validates creds and wraps them in an Account.
func NewAccount(id string, creds Credentials) (Account, error) {
	if creds == nil {
		return Account{}, fmt.Errorf("account %q: no credentials", id)
	}
	if err := creds.Validate(); err != nil {
		return Account{}, err
	}
	return Account{ID: id, Credentials: creds}, nil
}

// Provider returns the provider of the account's credentials, or zero when unset.
func (a Account) Provider() Provider {
	if a.Credentials == nil {
		return 0
	}
	return a.Credentials.Provider()
}

// TelegramCredentials authenticate a bot posting into one chat or channel.
type TelegramCredentials struct {
	BotToken string `env:"BOT_TOKEN,required,notEmpty"`
	// ChatID is numeric ("-100123") or a public channel username ("@channel").
	ChatID string `env:"CHAT_ID,required,notEmpty"`
}

func (TelegramCredentials) Provider() Provider { return Telegram }
func (TelegramCredentials) sealed()            {}

func (c TelegramCredentials) Validate() error {
	return requireFields(Telegram, map[string]string{"bot token": c.BotToken, "chat id": c.ChatID})
}

// FacebookCredentials hold a page id and a page access token.
type FacebookCredentials struct {
	PageID      string `env:"PAGE_ID,required,notEmpty"`
	AccessToken string `env:"ACCESS_TOKEN,required,notEmpty"`
}

func (FacebookCredentials) Provider() Provider { return Facebook }
func (FacebookCredentials) sealed()            {}

func (c FacebookCredentials) Validate() error {
	return requireFields(Facebook, map[string]string{"page id": c.PageID, "access token": c.AccessToken})
}

// InstagramCredentials hold an Instagram professional account id and a graph access token.
type InstagramCredentials struct {
	UserID      string `env:"USER_ID,required,notEmpty"`
	AccessToken string `env:"ACCESS_TOKEN,required,notEmpty"`
}

func (InstagramCredentials) Provider() Provider { return Instagram }
func (InstagramCredentials) sealed()            {}

func (c InstagramCredentials) Validate() error {
	return requireFields(Instagram, map[string]string{"user id": c.UserID, "access token": c.AccessToken})
}

// ThreadsCredentials hold a Threads user id and access token.
type ThreadsCredentials struct {
	UserID      string `env:"USER_ID,required,notEmpty"`
	AccessToken string `env:"ACCESS_TOKEN,required,notEmpty"`
}

func (ThreadsCredentials) Provider() Provider { return Threads }
func (ThreadsCredentials) sealed()            {}

func (c ThreadsCredentials) Validate() error {
	return requireFields(Threads, map[string]string{"user id": c.UserID, "access token": c.AccessToken})
}

// TwitterCredentials capture the credentials required for OAuth 1.0a user-context requests.
type TwitterCredentials struct {
	ConsumerKey    string `env:"CONSUMER_KEY,required,notEmpty"`
	ConsumerSecret string `env:"CONSUMER_SECRET,required,notEmpty"`
	AccessToken    string `env:"ACCESS_TOKEN,required,notEmpty"`
	AccessSecret   string `env:"ACCESS_TOKEN_SECRET,required,notEmpty"`
}

func (TwitterCredentials) Provider() Provider { return Twitter }
func (TwitterCredentials) sealed()            {}

func (c TwitterCredentials) Validate() error {
	return requireFields(Twitter, map[string]string{
		"consumer key":        c.ConsumerKey,
		"consumer secret":     c.ConsumerSecret,
		"access token":        c.AccessToken,
		"access token secret": c.AccessSecret,
	})
}

// YouTubeCredentials hold an OAuth2 client and a long-lived refresh token.
// AccessToken is optional; it is replaced by a fresh one before every upload.
type YouTubeCredentials struct {
	ClientID     string `env:"CLIENT_ID,required,notEmpty"`
	ClientSecret string `env:"CLIENT_SECRET,required,notEmpty"`
	AccessToken  string `env:"ACCESS_TOKEN"`
	RefreshToken string `env:"REFRESH_TOKEN,required,notEmpty"`
}

func (YouTubeCredentials) Provider() Provider { return YouTube }
func (YouTubeCredentials) sealed()            {}

func (c YouTubeCredentials) Validate() error {
	return requireFields(YouTube, map[string]string{
		"client id":     c.ClientID,
		"client secret": c.ClientSecret,
		"refresh token": c.RefreshToken,
	})
}

// MastodonCredentials contain the settings needed to reach a Mastodon server.
type MastodonCredentials struct {
	Server      string `env:"SERVER,required,notEmpty"`
	AccessToken string `env:"ACCESS_TOKEN,required,notEmpty"`
}

func (MastodonCredentials) Provider() Provider { return Mastodon }
func (MastodonCredentials) sealed()            {}

func (c MastodonCredentials) Validate() error {
	return requireFields(Mastodon, map[string]string{"server": c.Server, "access token": c.AccessToken})
}

// BlueskyCredentials log in with an app password. PDSURL defaults to https://bsky.social.
type BlueskyCredentials struct {
	Handle      string `env:"HANDLE,required,notEmpty"`
	AppPassword string `env:"APP_PASSWORD,required,notEmpty"`
	PDSURL      string `env:"PDS_URL"`
}

func (BlueskyCredentials) Provider() Provider { return Bluesky }
func (BlueskyCredentials) sealed()            {}

func (c BlueskyCredentials) Validate() error {
	return requireFields(Bluesky, map[string]string{"handle": c.Handle, "app password": c.AppPassword})
}

func requireFields(p Provider, fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return ValidationError{Provider: p.String(), Reason: "missing " + strings.Join(missing, ", ")}
}
