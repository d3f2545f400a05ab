// Package twitter posts to X (Twitter): media through the signed v1.1 upload endpoint,
// tweets through the v2 API.
package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
	"github.com/blacktop/xpublish/internal/publish/httpapi"
	"github.com/blacktop/xpublish/internal/publish/oauth1"
	"github.com/blacktop/xpublish/internal/publish/upload"
)

const (
	providerName = "twitter"

	maxImages = 4

	categoryImage = "tweet_image"
	categoryGIF   = "tweet_gif"
	categoryVideo = "tweet_video"
)

// Client implements the Poster interface for X (Twitter).
type Client struct {
	cfg  publish.Config
	http *http.Client
	// Waiter paces STATUS polls after a chunked upload.
	Waiter publish.Waiter
}

// New constructs a Twitter poster. hc carries both media and tweet requests.
func New(cfg publish.Config, hc *http.Client) *Client {
	if hc == nil {
		hc = cfg.UploadHTTPClient()
	}
	return &Client{cfg: cfg, http: hc, Waiter: publish.TimerWaiter{}}
}

// CredentialsFromEnv reads the XPUBLISH_TWITTER_{CONSUMER_KEY,CONSUMER_SECRET,ACCESS_TOKEN,ACCESS_TOKEN_SECRET} variables.
func CredentialsFromEnv() (publish.TwitterCredentials, error) {
	return publish.CredentialsFromEnv[publish.TwitterCredentials](nil)
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Provider returns publish.Twitter.
func (c *Client) Provider() publish.Provider { return publish.Twitter }

// SetWaiter replaces the timer pacing STATUS polls.
func (c *Client) SetWaiter(w publish.Waiter) { c.Waiter = w }

// Post uploads the media, if any, and creates one tweet referencing it.
func (c *Client) Post(ctx context.Context, req publish.Request) (string, error) {
	creds, ok := req.Account.Credentials.(publish.TwitterCredentials)
	if !ok {
		return "", publish.ValidationError{Provider: providerName, Reason: "account does not hold twitter credentials"}
	}
	items := selectMedia(req.Media)
	if strings.TrimSpace(req.Text) == "" && len(items) == 0 {
		return "", &publish.PreconditionError{Provider: providerName, Reason: "Twitter requires text or media to publish."}
	}

	signer := oauth1.NewSigner(oauth1.Credentials{
		ConsumerKey:    creds.ConsumerKey,
		ConsumerSecret: creds.ConsumerSecret,
		Token:          creds.AccessToken,
		TokenSecret:    creds.AccessSecret,
	})
	api := httpapi.New(providerName, c.http).ForAccount(req.Account.ID)

	mediaIDs := make([]string, 0, len(items))
	for _, item := range items {
		logutil.Debugf("uploading media: url=%s", item.URL)
		id, err := c.uploadMedia(ctx, api, signer, item)
		if err != nil {
			warnUnusedMedia(req.Account.ID, mediaIDs)
			return "", err
		}
		logutil.Debugf("media uploaded: media_id=%s", id)
		mediaIDs = append(mediaIDs, id)
	}

	id, err := c.createTweet(ctx, creds, req, mediaIDs)
	if err != nil {
		warnUnusedMedia(req.Account.ID, mediaIDs)
		return "", err
	}
	return id, nil
}

func (c *Client) createTweet(ctx context.Context, creds publish.TwitterCredentials, req publish.Request, mediaIDs []string) (string, error) {
	client, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           c.http,
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           creds.AccessToken,
		OAuthTokenSecret:     creds.AccessSecret,
		APIKey:               creds.ConsumerKey,
		APIKeySecret:         creds.ConsumerSecret,
		Debug:                logutil.Verbose(),
	})
	if err != nil {
		return "", fmt.Errorf("create X client: %w", err)
	}
	if !client.IsReady() {
		return "", fmt.Errorf("twitter client not ready")
	}

	input := &managetweettypes.CreateInput{Text: gotwi.String(req.Text)}
	if len(mediaIDs) > 0 {
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: mediaIDs}
	}
	if req.Options.ReplyToID != "" {
		input.Reply = &managetweettypes.CreateInputReply{InReplyToTweetID: req.Options.ReplyToID}
	}

	logutil.Debugf("posting tweet: media_count=%d", len(mediaIDs))
	res, err := managetweet.Create(ctx, client, input)
	if err != nil {
		return "", fmt.Errorf("post tweet: %w", unwrapGotwiError(err))
	}
	id := gotwi.StringValue(res.Data.ID)
	if id == "" {
		return "", &publish.MissingFieldError{Provider: providerName, Step: "post tweet", Field: "data.id"}
	}
	logutil.Debugf("tweet posted: id=%s", id)
	return id, nil
}

// warnUnusedMedia logs uploads no tweet references; X discards them after 24 hours.
func warnUnusedMedia(account string, ids []string) {
	if len(ids) == 0 {
		return
	}
	logutil.Warn("uploaded media left unattached", "provider", providerName, "account", account, "media", strings.Join(ids, ","))
}

// selectMedia applies the attachment rules: one video, or up to four images.
func selectMedia(media []publish.MediaItem) []publish.MediaItem {
	if v, ok := publish.FirstVideo(media); ok {
		return []publish.MediaItem{v}
	}
	var images []publish.MediaItem
	for _, item := range media {
		if item.Kind() == publish.KindImage {
			images = append(images, item)
		}
	}
	if len(images) > maxImages {
		logutil.Warnf("twitter: only %d images per tweet, dropping %d", maxImages, len(images)-maxImages)
		images = images[:maxImages]
	}
	return images
}

func (c *Client) uploadMedia(ctx context.Context, api *httpapi.Client, signer *oauth1.Signer, item publish.MediaItem) (string, error) {
	asset, err := upload.Fetch(ctx, c.http, item)
	if err != nil {
		return "", err
	}
	defer asset.Remove()

	up := &upload.ChunkedUploader{
		Provider:          providerName,
		Endpoint:          c.cfg.Endpoints.TwitterUpload,
		API:               api,
		Auth:              signer,
		ChunkSize:         c.cfg.ChunkSize,
		MaxStatusChecks:   c.cfg.MaxStatusChecks,
		DefaultCheckAfter: c.cfg.DefaultCheckAfter,
		Waiter:            c.Waiter,
	}

	var id string
	switch category := mediaCategory(asset.MimeType); category {
	case categoryImage:
		id, err = up.UploadSimple(ctx, asset)
	default:
		id, err = up.UploadChunked(ctx, asset, category)
	}
	if err != nil {
		return "", err
	}

	if alt := strings.TrimSpace(item.Title); alt != "" && publish.IsImage(asset.MimeType) {
		if err := c.setAltText(ctx, api, signer, id, alt); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (c *Client) setAltText(ctx context.Context, api *httpapi.Client, signer *oauth1.Signer, mediaID, altText string) error {
	body := map[string]any{
		"media_id": mediaID,
		"alt_text": map[string]string{"text": altText},
	}
	// JSON bodies are not part of the OAuth signature
	header, err := signer.Header(http.MethodPost, c.cfg.Endpoints.TwitterMetadata, nil)
	if err != nil {
		return fmt.Errorf("set alt text: %w", err)
	}
	if _, err := api.PostJSON(ctx, "set alt text", c.cfg.Endpoints.TwitterMetadata, http.Header{"Authorization": {header}}, body, nil); err != nil {
		return err
	}
	logutil.Debugf("alt text set: media_id=%s", mediaID)
	return nil
}

func mediaCategory(mimetype string) string {
	switch {
	case publish.IsVideo(mimetype):
		return categoryVideo
	case strings.EqualFold(mimetype, "image/gif"):
		return categoryGIF
	default:
		return categoryImage
	}
}

func unwrapGotwiError(err error) error {
	var gwErr *gotwi.GotwiError
	if errors.As(err, &gwErr) && gwErr != nil {
		return errors.New(summarizeGotwiError(gwErr))
	}
	return err
}

func summarizeGotwiError(err *gotwi.GotwiError) string {
	parts := make([]string, 0, 4)
	if err.Title != "" {
		parts = append(parts, err.Title)
	}
	if err.Detail != "" {
		parts = append(parts, err.Detail)
	}
	for _, apiErr := range err.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		if msg := err.Error(); msg != "" {
			parts = append(parts, msg)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "X API request failed")
	}
	return strings.Join(parts, "; ")
}
