// Package facebook publishes to a Facebook page feed through the Graph API.
package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
	"github.com/blacktop/xpublish/internal/publish/httpapi"
)

const providerName = "facebook"

var linkPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Client implements the Poster interface for Facebook pages.
type Client struct {
	api  *httpapi.Client
	base string
}

// New constructs a Facebook poster against cfg.Endpoints.FacebookGraph.
func New(cfg publish.Config, hc *http.Client) *Client {
	if hc == nil {
		hc = cfg.UploadHTTPClient()
	}
	return &Client{
		api:  httpapi.New(providerName, hc),
		base: strings.TrimRight(cfg.Endpoints.FacebookGraph, "/"),
	}
}

// CredentialsFromEnv reads XPUBLISH_FACEBOOK_PAGE_ID and XPUBLISH_FACEBOOK_ACCESS_TOKEN.
func CredentialsFromEnv() (publish.FacebookCredentials, error) {
	return publish.CredentialsFromEnv[publish.FacebookCredentials](nil)
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Provider returns publish.Facebook.
func (c *Client) Provider() publish.Provider { return publish.Facebook }

type idResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

// Post publishes text, a photo, a video or a multi-photo feed post.
func (c *Client) Post(ctx context.Context, req publish.Request) (string, error) {
	creds, ok := req.Account.Credentials.(publish.FacebookCredentials)
	if !ok {
		return "", publish.ValidationError{Provider: providerName, Reason: "account does not hold facebook credentials"}
	}
	api := c.api.ForAccount(req.Account.ID)

	visual := publish.Visual(req.Media)
	switch {
	case len(visual) == 0:
		if strings.TrimSpace(req.Text) == "" {
			return "", &publish.PreconditionError{Provider: providerName, Reason: "Facebook requires text or media to publish."}
		}
		return c.feedPost(ctx, api, creds, req.Text, nil)
	case len(visual) == 1:
		return c.single(ctx, api, creds, visual[0], req.Text)
	}

	if _, hasVideo := publish.FirstVideo(visual); hasVideo {
		// a feed post cannot mix videos with photos
		item, _ := publish.Fallback(visual)
		logutil.Debugf("facebook: mixed media, posting %s only", item.URL)
		return c.single(ctx, api, creds, item, req.Text)
	}

	var photoIDs []string
	id, err := c.album(ctx, api, creds, visual, req.Text, &photoIDs)
	if err != nil {
		warnStagedPhotos(req.Account.ID, photoIDs)
		return "", err
	}
	return id, nil
}

// album stages every photo unpublished, recording each id in staged, then attaches them
// all to one feed post.
func (c *Client) album(ctx context.Context, api *httpapi.Client, creds publish.FacebookCredentials, visual []publish.MediaItem, text string, staged *[]string) (string, error) {
	for i, item := range visual {
		logutil.Debugf("facebook: uploading unpublished photo %d/%d", i+1, len(visual))
		var res idResponse
		err := api.PostForm(ctx, "upload photo "+strconv.Itoa(i+1), c.endpoint(creds.PageID, "photos"), url.Values{
			"url":          {item.URL},
			"published":    {"false"},
			"access_token": {creds.AccessToken},
		}, &res)
		if err != nil {
			return "", err
		}
		if res.ID == "" {
			return "", &publish.MissingFieldError{Provider: providerName, Step: "upload photo", Field: "id"}
		}
		*staged = append(*staged, res.ID)
	}
	return c.feedPost(ctx, api, creds, text, *staged)
}

func warnStagedPhotos(account string, ids []string) {
	if len(ids) == 0 {
		return
	}
	logutil.Warn("unpublished photos left behind", "provider", providerName, "account", account, "photos", strings.Join(ids, ","))
}

func (c *Client) single(ctx context.Context, api *httpapi.Client, creds publish.FacebookCredentials, item publish.MediaItem, text string) (string, error) {
	var (
		res  idResponse
		step string
		err  error
	)
	if item.Kind() == publish.KindVideo {
		step = "post video"
		form := url.Values{
			"file_url":     {item.URL},
			"description":  {text},
			"access_token": {creds.AccessToken},
		}
		if item.Title != "" {
			form.Set("title", item.Title)
		}
		err = api.PostForm(ctx, step, c.endpoint(creds.PageID, "videos"), form, &res)
	} else {
		step = "post photo"
		err = api.PostForm(ctx, step, c.endpoint(creds.PageID, "photos"), url.Values{
			"url":          {item.URL},
			"message":      {text},
			"access_token": {creds.AccessToken},
		}, &res)
	}
	if err != nil {
		return "", err
	}
	switch {
	case res.PostID != "":
		return res.PostID, nil
	case res.ID != "":
		return res.ID, nil
	}
	return "", &publish.MissingFieldError{Provider: providerName, Step: step, Field: "id"}
}

func (c *Client) feedPost(ctx context.Context, api *httpapi.Client, creds publish.FacebookCredentials, text string, photoIDs []string) (string, error) {
	form := url.Values{
		"message":      {text},
		"access_token": {creds.AccessToken},
	}
	if len(photoIDs) == 0 {
		if link := FirstLink(text); link != "" {
			form.Set("link", link)
		}
	}
	for i, id := range photoIDs {
		ref, err := json.Marshal(map[string]string{"media_fbid": id})
		if err != nil {
			return "", fmt.Errorf("encode attached media: %w", err)
		}
		form.Set(fmt.Sprintf("attached_media[%d]", i), string(ref))
	}

	var res idResponse
	if err := api.PostForm(ctx, "feed post", c.endpoint(creds.PageID, "feed"), form, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", &publish.MissingFieldError{Provider: providerName, Step: "feed post", Field: "id"}
	}
	return res.ID, nil
}

func (c *Client) endpoint(pageID, edge string) string {
	return c.base + "/" + url.PathEscape(pageID) + "/" + edge
}

// FirstLink returns the first http(s) URL in text, without trailing punctuation.
func FirstLink(text string) string {
	link := linkPattern.FindString(text)
	return strings.TrimRight(link, ".,;:!?)]")
}
