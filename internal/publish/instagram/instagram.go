// Package instagram publishes photos, reels and carousels to an Instagram professional
// account through media containers.
package instagram

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
	"github.com/blacktop/xpublish/internal/publish/container"
	"github.com/blacktop/xpublish/internal/publish/httpapi"
)

const (
	providerName = "instagram"

	maxCarouselItems = 10
)

// ErrMediaRequired is the user-facing message for posts without any image or video.
const ErrMediaRequired = "Instagram requires at least one image or video to publish."

// Client implements the Poster interface for Instagram.
type Client struct {
	api    *httpapi.Client
	base   string
	poller *container.Poller
}

// New constructs an Instagram poster against cfg.Endpoints.InstagramGraph.
func New(cfg publish.Config, hc *http.Client) *Client {
	if hc == nil {
		hc = cfg.HTTPClient()
	}
	return &Client{
		api:    httpapi.New(providerName, hc),
		base:   strings.TrimRight(cfg.Endpoints.InstagramGraph, "/"),
		poller: container.NewPoller(providerName, cfg),
	}
}

// CredentialsFromEnv reads XPUBLISH_INSTAGRAM_USER_ID and XPUBLISH_INSTAGRAM_ACCESS_TOKEN.
func CredentialsFromEnv() (publish.InstagramCredentials, error) {
	return publish.CredentialsFromEnv[publish.InstagramCredentials](nil)
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Provider returns publish.Instagram.
func (c *Client) Provider() publish.Provider { return publish.Instagram }

// SetWaiter replaces the timer between container status polls.
func (c *Client) SetWaiter(w publish.Waiter) { c.poller.Waiter = w }

type call struct {
	*Client
	api   *httpapi.Client
	creds publish.InstagramCredentials
	// created holds every container made so far that is not yet published.
	created []container.Container
}

// Post creates the containers for req, waits for videos to finish processing and publishes.
func (c *Client) Post(ctx context.Context, req publish.Request) (string, error) {
	creds, ok := req.Account.Credentials.(publish.InstagramCredentials)
	if !ok {
		return "", publish.ValidationError{Provider: providerName, Reason: "account does not hold instagram credentials"}
	}
	visual := publish.Visual(req.Media)
	if len(visual) == 0 {
		return "", &publish.PreconditionError{Provider: providerName, Reason: ErrMediaRequired}
	}

	cl := &call{Client: c, api: c.api.ForAccount(req.Account.ID), creds: creds}
	id, err := cl.post(ctx, req, visual)
	if err != nil {
		container.WarnOrphans(providerName, req.Account.ID, cl.created)
		return "", err
	}
	return id, nil
}

func (cl *call) post(ctx context.Context, req publish.Request, visual []publish.MediaItem) (string, error) {
	if len(visual) == 1 {
		item := visual[0]
		form := url.Values{"caption": {req.Text}}
		setLocation(form, req.Options)
		kind := container.KindImage
		if item.Kind() == publish.KindVideo {
			kind = container.KindVideo
			form.Set("media_type", "REELS")
			form.Set("video_url", item.URL)
		} else {
			form.Set("image_url", item.URL)
		}
		ctr, err := cl.create(ctx, "create media container", kind, item.Kind() == publish.KindVideo, form)
		if err != nil {
			return "", err
		}
		if err := cl.awaitIfVideo(ctx, ctr); err != nil {
			return "", err
		}
		return cl.publish(ctx, ctr.ID)
	}

	if len(visual) > maxCarouselItems {
		logutil.Warnf("instagram: carousel limited to %d items, dropping %d", maxCarouselItems, len(visual)-maxCarouselItems)
		visual = visual[:maxCarouselItems]
	}

	children := make([]container.Container, 0, len(visual))
	for _, item := range visual {
		form := url.Values{"is_carousel_item": {"true"}}
		video := item.Kind() == publish.KindVideo
		if video {
			form.Set("media_type", "VIDEO")
			form.Set("video_url", item.URL)
		} else {
			form.Set("image_url", item.URL)
		}
		child, err := cl.create(ctx, "create carousel item", container.KindCarouselChild, video, form)
		if err != nil {
			return "", err
		}
		if err := cl.awaitIfVideo(ctx, child); err != nil {
			return "", err
		}
		children = append(children, *child)
	}

	form := url.Values{
		"media_type": {"CAROUSEL"},
		"children":   {strings.Join(container.IDs(children), ",")},
		"caption":    {req.Text},
	}
	setLocation(form, req.Options)
	parent, err := cl.create(ctx, "create carousel container", container.KindCarousel, false, form)
	if err != nil {
		return "", err
	}
	return cl.publish(ctx, parent.ID)
}

func (cl *call) create(ctx context.Context, step string, kind container.Kind, video bool, form url.Values) (*container.Container, error) {
	form.Set("access_token", cl.creds.AccessToken)

	var res struct {
		ID string `json:"id"`
	}
	if err := cl.api.PostForm(ctx, step, cl.base+"/"+url.PathEscape(cl.creds.UserID)+"/media", form, &res); err != nil {
		return nil, err
	}
	if res.ID == "" {
		return nil, &publish.MissingFieldError{Provider: providerName, Step: step, Field: "id"}
	}
	logutil.Debugf("instagram %s: id=%s kind=%s", step, res.ID, kind)

	ctr := container.Container{ID: res.ID, Kind: kind, Video: video, Status: container.StatusPending}
	cl.created = append(cl.created, ctr)
	return &ctr, nil
}

func (cl *call) awaitIfVideo(ctx context.Context, ctr *container.Container) error {
	if !ctr.NeedsPolling() {
		return nil
	}
	return cl.poller.Wait(ctx, ctr, cl.status)
}

func (cl *call) status(ctx context.Context, id string) (string, string, error) {
	var res struct {
		StatusCode string `json:"status_code"`
		Status     string `json:"status"`
	}
	err := cl.api.Get(ctx, "container status", cl.base+"/"+url.PathEscape(id), url.Values{
		"fields":       {"status_code,status"},
		"access_token": {cl.creds.AccessToken},
	}, &res)
	if err != nil {
		return "", "", err
	}
	if res.StatusCode == "" {
		return "", "", &publish.MissingFieldError{Provider: providerName, Step: "container status", Field: "status_code"}
	}
	return res.StatusCode, res.Status, nil
}

func (cl *call) publish(ctx context.Context, creationID string) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	err := cl.api.PostForm(ctx, "publish media", cl.base+"/"+url.PathEscape(cl.creds.UserID)+"/media_publish", url.Values{
		"creation_id":  {creationID},
		"access_token": {cl.creds.AccessToken},
	}, &res)
	if err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", &publish.MissingFieldError{Provider: providerName, Step: "publish media", Field: "id"}
	}
	cl.created = nil
	return res.ID, nil
}

func setLocation(form url.Values, opts publish.Options) {
	if opts.LocationID != "" {
		form.Set("location_id", opts.LocationID)
	}
}
