// Package bluesky publishes posts to an AT Protocol PDS.
package bluesky

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
	"github.com/blacktop/xpublish/internal/publish/upload"
)

const (
	providerName   = "bluesky"
	postCollection = "app.bsky.feed.post"

	maxImages = 4
)

var linkPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Client implements the Poster interface for Bluesky.
type Client struct {
	http       *http.Client
	defaultPDS string
	userAgent  string
	now        func() time.Time
}

// New constructs a Bluesky poster. Accounts without a PDS URL use cfg.Endpoints.BlueskyPDS.
func New(cfg publish.Config, hc *http.Client) *Client {
	if hc == nil {
		hc = cfg.UploadHTTPClient()
	}
	return &Client{
		http:       hc,
		defaultPDS: cfg.Endpoints.BlueskyPDS,
		userAgent:  "xpublish/1",
		now:        time.Now,
	}
}

// CredentialsFromEnv reads the XPUBLISH_BLUESKY_{HANDLE,APP_PASSWORD,PDS_URL} variables.
func CredentialsFromEnv() (publish.BlueskyCredentials, error) {
	return publish.CredentialsFromEnv[publish.BlueskyCredentials](nil)
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Provider returns publish.Bluesky.
func (c *Client) Provider() publish.Provider { return publish.Bluesky }

// Post logs in with the account's app password and creates one post record. The returned
// id is the record's at:// URI, which Options.ReplyToID accepts for replies.
func (c *Client) Post(ctx context.Context, req publish.Request) (string, error) {
	creds, ok := req.Account.Credentials.(publish.BlueskyCredentials)
	if !ok {
		return "", publish.ValidationError{Provider: providerName, Reason: "account does not hold bluesky credentials"}
	}
	visual := publish.Visual(req.Media)
	if strings.TrimSpace(req.Text) == "" && len(visual) == 0 {
		return "", &publish.PreconditionError{Provider: providerName, Reason: "Bluesky requires text or media to publish."}
	}

	client, err := c.login(ctx, creds)
	if err != nil {
		return "", err
	}

	post := &bsky.FeedPost{
		CreatedAt: c.now().UTC().Format(time.RFC3339),
		Text:      req.Text,
		Facets:    linkFacets(req.Text),
	}

	if req.Options.ReplyToID != "" {
		reply, err := replyRef(ctx, client, req.Options.ReplyToID)
		if err != nil {
			return "", err
		}
		post.Reply = reply
	}

	if len(visual) > 0 {
		embed, err := c.embed(ctx, client, visual)
		if err != nil {
			return "", err
		}
		post.Embed = embed
	}

	out, err := atproto.RepoCreateRecord(ctx, client, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       client.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	if out == nil || out.Uri == "" {
		return "", &publish.MissingFieldError{Provider: providerName, Step: "create record", Field: "uri"}
	}
	logutil.Debugf("bluesky post created: uri=%s", out.Uri)
	return out.Uri, nil
}

func (c *Client) login(ctx context.Context, creds publish.BlueskyCredentials) (*xrpc.Client, error) {
	host := strings.TrimSpace(creds.PDSURL)
	if host == "" {
		host = c.defaultPDS
	}
	ua := c.userAgent
	client := &xrpc.Client{
		Client:    c.http,
		Host:      strings.TrimRight(host, "/"),
		UserAgent: &ua,
	}

	session, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: creds.Handle,
		Password:   creds.AppPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}
	return client, nil
}

// embed attaches the first video when there is one, otherwise up to four images.
func (c *Client) embed(ctx context.Context, client *xrpc.Client, visual []publish.MediaItem) (*bsky.FeedPost_Embed, error) {
	if v, ok := publish.FirstVideo(visual); ok {
		blob, err := c.uploadBlob(ctx, client, v)
		if err != nil {
			return nil, err
		}
		video := &bsky.EmbedVideo{Video: blob}
		if v.Title != "" {
			video.Alt = &v.Title
		}
		return &bsky.FeedPost_Embed{EmbedVideo: video}, nil
	}

	if len(visual) > maxImages {
		logutil.Warnf("bluesky: only %d images per post, dropping %d", maxImages, len(visual)-maxImages)
		visual = visual[:maxImages]
	}
	images := make([]*bsky.EmbedImages_Image, 0, len(visual))
	for _, item := range visual {
		blob, err := c.uploadBlob(ctx, client, item)
		if err != nil {
			return nil, err
		}
		images = append(images, &bsky.EmbedImages_Image{Alt: item.Title, Image: blob})
	}
	return &bsky.FeedPost_Embed{EmbedImages: &bsky.EmbedImages{Images: images}}, nil
}

func (c *Client) uploadBlob(ctx context.Context, client *xrpc.Client, item publish.MediaItem) (*util.LexBlob, error) {
	asset, err := upload.Fetch(ctx, c.http, item)
	if err != nil {
		return nil, err
	}
	defer asset.Remove()

	resp, err := atproto.RepoUploadBlob(ctx, client, asset.Reader())
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}
	if resp.Blob == nil {
		return nil, &publish.MissingFieldError{Provider: providerName, Step: "upload blob", Field: "blob"}
	}
	return resp.Blob, nil
}

// replyRef resolves the parent post and inherits its thread root.
func replyRef(ctx context.Context, client *xrpc.Client, parentURI string) (*bsky.FeedPost_ReplyRef, error) {
	repo, collection, rkey, err := splitRecordURI(parentURI)
	if err != nil {
		return nil, publish.ValidationError{Provider: providerName, Reason: err.Error()}
	}
	rec, err := atproto.RepoGetRecord(ctx, client, "", collection, repo, rkey)
	if err != nil {
		return nil, fmt.Errorf("resolve reply parent: %w", err)
	}
	if rec.Cid == nil || *rec.Cid == "" {
		return nil, &publish.MissingFieldError{Provider: providerName, Step: "resolve reply parent", Field: "cid"}
	}

	parent := &atproto.RepoStrongRef{Uri: rec.Uri, Cid: *rec.Cid}
	root := parent
	if rec.Value != nil {
		if p, ok := rec.Value.Val.(*bsky.FeedPost); ok && p.Reply != nil && p.Reply.Root != nil {
			root = p.Reply.Root
		}
	}
	return &bsky.FeedPost_ReplyRef{Root: root, Parent: parent}, nil
}

// splitRecordURI parses at://<repo>/<collection>/<rkey>.
func splitRecordURI(uri string) (repo, collection, rkey string, err error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	parts := strings.Split(rest, "/")
	if !ok || len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("reply target %q is not an at:// record uri", uri)
	}
	return parts[0], parts[1], parts[2], nil
}

// linkFacets marks every URL in text as a link. Facet offsets are UTF-8 byte offsets.
func linkFacets(text string) []*bsky.RichtextFacet {
	var facets []*bsky.RichtextFacet
	for _, loc := range linkPattern.FindAllStringIndex(text, -1) {
		link := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?)]")
		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{
				ByteStart: int64(loc[0]),
				ByteEnd:   int64(loc[0] + len(link)),
			},
			Features: []*bsky.RichtextFacet_Features_Elem{
				{RichtextFacet_Link: &bsky.RichtextFacet_Link{Uri: link}},
			},
		})
	}
	return facets
}
