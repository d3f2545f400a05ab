// Package threads publishes to Threads. Unlike Instagram it accepts text-only posts.
package threads

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
	providerName = "threads"

	maxCarouselItems = 20
)

// Media types understood by the threads endpoint.
const (
	mediaText     = "TEXT"
	mediaImage    = "IMAGE"
	mediaVideo    = "VIDEO"
	mediaCarousel = "CAROUSEL"
)

// Client implements the Poster interface for Threads.
type Client struct {
	api    *httpapi.Client
	base   string
	poller *container.Poller
}

// New constructs a Threads poster against cfg.Endpoints.Threads.
func New(cfg publish.Config, hc *http.Client) *Client {
	if hc == nil {
		hc = cfg.HTTPClient()
	}
	return &Client{
		api:    httpapi.New(providerName, hc),
		base:   strings.TrimRight(cfg.Endpoints.Threads, "/"),
		poller: container.NewPoller(providerName, cfg),
	}
}

// CredentialsFromEnv reads XPUBLISH_THREADS_USER_ID and XPUBLISH_THREADS_ACCESS_TOKEN.
func CredentialsFromEnv() (publish.ThreadsCredentials, error) {
	return publish.CredentialsFromEnv[publish.ThreadsCredentials](nil)
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Provider returns publish.Threads.
func (c *Client) Provider() publish.Provider { return publish.Threads }

// SetWaiter replaces the timer between container status polls.
func (c *Client) SetWaiter(w publish.Waiter) { c.poller.Waiter = w }

// Post publishes a text, image, video or carousel thread. Options.ReplyToID makes it a reply.
func (c *Client) Post(ctx context.Context, req publish.Request) (string, error) {
	creds, ok := req.Account.Credentials.(publish.ThreadsCredentials)
	if !ok {
		return "", publish.ValidationError{Provider: providerName, Reason: "account does not hold threads credentials"}
	}
	visual := publish.Visual(req.Media)
	if len(visual) == 0 && strings.TrimSpace(req.Text) == "" {
		return "", &publish.PreconditionError{Provider: providerName, Reason: "Threads requires text or media to publish."}
	}

	s := &session{c: c, api: c.api.ForAccount(req.Account.ID), creds: creds}
	id, err := s.post(ctx, req, visual)
	if err != nil {
		container.WarnOrphans(providerName, req.Account.ID, s.pending)
		return "", err
	}
	return id, nil
}

type session struct {
	c       *Client
	api     *httpapi.Client
	creds   publish.ThreadsCredentials
	pending []container.Container
}

func (s *session) post(ctx context.Context, req publish.Request, visual []publish.MediaItem) (string, error) {
	top := url.Values{"text": {req.Text}}
	if req.Options.ReplyToID != "" {
		top.Set("reply_to_id", req.Options.ReplyToID)
	}

	switch len(visual) {
	case 0:
		top.Set("media_type", mediaText)
		ctr, err := s.create(ctx, "create text container", container.KindText, false, top)
		if err != nil {
			return "", err
		}
		return s.publish(ctx, ctr.ID)
	case 1:
		ctr, err := s.createItem(ctx, "create media container", visual[0], top, kindOf(visual[0]))
		if err != nil {
			return "", err
		}
		return s.publish(ctx, ctr.ID)
	}

	if len(visual) > maxCarouselItems {
		logutil.Warnf("threads: carousel limited to %d items, dropping %d", maxCarouselItems, len(visual)-maxCarouselItems)
		visual = visual[:maxCarouselItems]
	}
	ids := make([]string, 0, len(visual))
	for _, item := range visual {
		child, err := s.createItem(ctx, "create carousel item", item, url.Values{"is_carousel_item": {"true"}}, container.KindCarouselChild)
		if err != nil {
			return "", err
		}
		ids = append(ids, child.ID)
	}

	top.Set("media_type", mediaCarousel)
	top.Set("children", strings.Join(ids, ","))
	parent, err := s.create(ctx, "create carousel container", container.KindCarousel, false, top)
	if err != nil {
		return "", err
	}
	return s.publish(ctx, parent.ID)
}

// createItem creates an IMAGE or VIDEO container for item and waits for videos to finish.
func (s *session) createItem(ctx context.Context, step string, item publish.MediaItem, form url.Values, kind container.Kind) (*container.Container, error) {
	video := item.Kind() == publish.KindVideo
	if video {
		form.Set("media_type", mediaVideo)
		form.Set("video_url", item.URL)
	} else {
		form.Set("media_type", mediaImage)
		form.Set("image_url", item.URL)
	}
	ctr, err := s.create(ctx, step, kind, video, form)
	if err != nil {
		return nil, err
	}
	if ctr.NeedsPolling() {
		if err := s.c.poller.Wait(ctx, ctr, s.status); err != nil {
			return nil, err
		}
	}
	return ctr, nil
}

func (s *session) create(ctx context.Context, step string, kind container.Kind, video bool, form url.Values) (*container.Container, error) {
	form.Set("access_token", s.creds.AccessToken)

	var res struct {
		ID string `json:"id"`
	}
	if err := s.api.PostForm(ctx, step, s.c.base+"/"+url.PathEscape(s.creds.UserID)+"/threads", form, &res); err != nil {
		return nil, err
	}
	if res.ID == "" {
		return nil, &publish.MissingFieldError{Provider: providerName, Step: step, Field: "id"}
	}
	logutil.Debugf("threads %s: id=%s media_type=%s", step, res.ID, form.Get("media_type"))

	ctr := container.Container{ID: res.ID, Kind: kind, Video: video, Status: container.StatusPending}
	s.pending = append(s.pending, ctr)
	return &ctr, nil
}

func (s *session) status(ctx context.Context, id string) (string, string, error) {
	var res struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
	}
	err := s.api.Get(ctx, "container status", s.c.base+"/"+url.PathEscape(id), url.Values{
		"fields":       {"status,error_message"},
		"access_token": {s.creds.AccessToken},
	}, &res)
	if err != nil {
		return "", "", err
	}
	if res.Status == "" {
		return "", "", &publish.MissingFieldError{Provider: providerName, Step: "container status", Field: "status"}
	}
	return res.Status, res.ErrorMessage, nil
}

func (s *session) publish(ctx context.Context, creationID string) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	err := s.api.PostForm(ctx, "publish thread", s.c.base+"/"+url.PathEscape(s.creds.UserID)+"/threads_publish", url.Values{
		"creation_id":  {creationID},
		"access_token": {s.creds.AccessToken},
	}, &res)
	if err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", &publish.MissingFieldError{Provider: providerName, Step: "publish thread", Field: "id"}
	}
	s.pending = nil
	return res.ID, nil
}

func kindOf(item publish.MediaItem) container.Kind {
	if item.Kind() == publish.KindVideo {
		return container.KindVideo
	}
	return container.KindImage
}
