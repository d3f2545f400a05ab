// Package mastodon posts statuses to the account's Mastodon server.
package mastodon

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	mastodonapi "github.com/mattn/go-mastodon"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
	"github.com/blacktop/xpublish/internal/publish/upload"
)

const (
	providerName = "mastodon"

	maxAttachments = 4
)

// Client implements the Poster interface for Mastodon.
type Client struct {
	http *http.Client
}

// New constructs a Mastodon poster. The server comes from each account's credentials.
func New(cfg publish.Config, hc *http.Client) *Client {
	if hc == nil {
		hc = cfg.UploadHTTPClient()
	}
	return &Client{http: hc}
}

// CredentialsFromEnv reads the XPUBLISH_MASTODON_{SERVER,ACCESS_TOKEN} variables.
func CredentialsFromEnv() (publish.MastodonCredentials, error) {
	return publish.CredentialsFromEnv[publish.MastodonCredentials](nil)
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Provider returns publish.Mastodon.
func (c *Client) Provider() publish.Provider { return publish.Mastodon }

// Post uploads the attachments and publishes one status referencing them.
func (c *Client) Post(ctx context.Context, req publish.Request) (string, error) {
	creds, ok := req.Account.Credentials.(publish.MastodonCredentials)
	if !ok {
		return "", publish.ValidationError{Provider: providerName, Reason: "account does not hold mastodon credentials"}
	}
	items := attachments(req.Media)
	if strings.TrimSpace(req.Text) == "" && len(items) == 0 {
		return "", &publish.PreconditionError{Provider: providerName, Reason: "Mastodon requires text or media to publish."}
	}

	client := mastodonapi.NewClient(&mastodonapi.Config{
		Server:      strings.TrimRight(creds.Server, "/"),
		AccessToken: creds.AccessToken,
	})
	client.Transport = c.http.Transport
	client.Timeout = c.http.Timeout

	var mediaIDs []mastodonapi.ID
	for _, item := range items {
		attachment, err := c.uploadMedia(ctx, client, item)
		if err != nil {
			return "", err
		}
		logutil.Debugf("mastodon media uploaded: id=%s", attachment.ID)
		mediaIDs = append(mediaIDs, attachment.ID)
	}

	toot := &mastodonapi.Toot{
		Status:     req.Text,
		MediaIDs:   mediaIDs,
		Visibility: visibility(req.Options.Privacy),
	}
	if req.Options.ReplyToID != "" {
		toot.InReplyToID = mastodonapi.ID(req.Options.ReplyToID)
	}

	status, err := client.PostStatus(ctx, toot)
	if err != nil {
		logutil.Error("post status failed", "provider", providerName, "account", req.Account.ID, "err", err)
		return "", fmt.Errorf("post status: %w", err)
	}
	if status == nil || status.ID == "" {
		return "", &publish.MissingFieldError{Provider: providerName, Step: "post status", Field: "id"}
	}
	return string(status.ID), nil
}

func (c *Client) uploadMedia(ctx context.Context, client *mastodonapi.Client, item publish.MediaItem) (*mastodonapi.Attachment, error) {
	asset, err := upload.Fetch(ctx, c.http, item)
	if err != nil {
		return nil, err
	}
	defer asset.Remove()

	attachment, err := client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
		File:        asset.Reader(),
		Description: item.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	if attachment == nil || attachment.ID == "" {
		return nil, &publish.MissingFieldError{Provider: providerName, Step: "upload media", Field: "id"}
	}
	return attachment, nil
}

// attachments keeps the first video alone, or up to four images.
func attachments(media []publish.MediaItem) []publish.MediaItem {
	if v, ok := publish.FirstVideo(media); ok {
		return []publish.MediaItem{v}
	}
	var images []publish.MediaItem
	for _, item := range media {
		if item.Kind() == publish.KindImage {
			images = append(images, item)
		}
	}
	if len(images) > maxAttachments {
		logutil.Warnf("mastodon: only %d attachments per status, dropping %d", maxAttachments, len(images)-maxAttachments)
		images = images[:maxAttachments]
	}
	return images
}

// visibility maps the privacy option onto Mastodon's visibility levels. Unknown values
// leave the account default in place.
func visibility(privacy string) string {
	switch strings.ToLower(strings.TrimSpace(privacy)) {
	case "public":
		return mastodonapi.VisibilityPublic
	case "unlisted":
		return mastodonapi.VisibilityUnlisted
	case "private", "followers":
		return mastodonapi.VisibilityFollowersOnly
	case "direct":
		return mastodonapi.VisibilityDirectMessage
	default:
		return ""
	}
}
