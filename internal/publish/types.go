package publish

import (
	"context"
	"fmt"
	"strings"
)

// Provider identifies one of the supported networks.
type Provider int

const (
	Telegram Provider = iota + 1
	Facebook
	Instagram
	Threads
	Twitter
	YouTube
	Mastodon
	Bluesky
)

var providerNames = map[Provider]string{
	Telegram:  "telegram",
	Facebook:  "facebook",
	Instagram: "instagram",
	Threads:   "threads",
	Twitter:   "twitter",
	YouTube:   "youtube",
	Mastodon:  "mastodon",
	Bluesky:   "bluesky",
}

// Providers lists every supported provider in declaration order.
func Providers() []Provider {
	return []Provider{Telegram, Facebook, Instagram, Threads, Twitter, YouTube, Mastodon, Bluesky}
}

func (p Provider) String() string {
	if name, ok := providerNames[p]; ok {
		return name
	}
	return fmt.Sprintf("provider(%d)", int(p))
}

// ParseProvider maps a provider name (case-insensitive, "x" is an alias for twitter) to a Provider.
func ParseProvider(name string) (Provider, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "x" {
		return Twitter, nil
	}
	for p, n := range providerNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unsupported provider %q", name)
}

// MediaItem is a remote, already-hosted asset attached to a post.
type MediaItem struct {
	URL      string `json:"url"`
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Options carries provider-specific hints. Providers ignore the ones they do not understand.
type Options struct {
	LocationID string `json:"location_id,omitempty"`
	Privacy    string `json:"privacy,omitempty"`
	ReplyToID  string `json:"reply_to_id,omitempty"`
}

// Request defines the post payload shared across all providers.
type Request struct {
	Account Account
	Text    string
	Media   []MediaItem
	Options Options
}

// Result is the uniform outcome of one publish call.
// ExternalID is meaningful only on success, Error only on failure.
type Result struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Poster abstracts a social network that can publish content.
type Poster interface {
	Name() string
	Provider() Provider
	// Post publishes req and returns the provider-assigned id of the created post.
	Post(ctx context.Context, req Request) (string, error)
}
