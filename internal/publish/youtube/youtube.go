// Package youtube uploads videos through the YouTube Data API resumable upload protocol.
package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
	"github.com/blacktop/xpublish/internal/publish/httpapi"
	"github.com/blacktop/xpublish/internal/publish/tokens"
	"github.com/blacktop/xpublish/internal/publish/upload"
)

const (
	providerName = "youtube"

	maxTitleRunes = 100
	maxTagChars   = 500
	// categoryPeopleBlogs is the default category for uploads without one.
	categoryPeopleBlogs = "22"
)

// ErrVideoRequired is the user-facing message for posts without a video.
const ErrVideoRequired = "YouTube requires a video to publish."

var hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// Client implements the Poster interface for YouTube.
type Client struct {
	api      *httpapi.Client
	endpoint string
	tokens   tokens.Refresher
}

// New constructs a YouTube poster. A nil refresher refreshes against cfg.Endpoints.GoogleToken.
func New(cfg publish.Config, hc *http.Client, refresher tokens.Refresher) *Client {
	if hc == nil {
		hc = cfg.UploadHTTPClient()
	}
	if refresher == nil {
		refresher = tokens.NewGoogleRefresher(cfg.Endpoints.GoogleToken, hc)
	}
	return &Client{
		api:      httpapi.New(providerName, hc),
		endpoint: cfg.Endpoints.YouTubeUpload,
		tokens:   refresher,
	}
}

// CredentialsFromEnv reads the XPUBLISH_YOUTUBE_{CLIENT_ID,CLIENT_SECRET,REFRESH_TOKEN} variables.
func CredentialsFromEnv() (publish.YouTubeCredentials, error) {
	return publish.CredentialsFromEnv[publish.YouTubeCredentials](nil)
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Provider returns publish.YouTube.
func (c *Client) Provider() publish.Provider { return publish.YouTube }

// Metadata is the videos.insert resource sent when opening the upload session.
type Metadata struct {
	Snippet Snippet `json:"snippet"`
	Status  Status  `json:"status"`
}

type Snippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	CategoryID  string   `json:"categoryId"`
}

type Status struct {
	PrivacyStatus           string `json:"privacyStatus"`
	SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids"`
}

// Post uploads the first video in req.Media. Every other item is ignored.
func (c *Client) Post(ctx context.Context, req publish.Request) (string, error) {
	if _, ok := req.Account.Credentials.(publish.YouTubeCredentials); !ok {
		return "", publish.ValidationError{Provider: providerName, Reason: "account does not hold youtube credentials"}
	}
	video, ok := publish.FirstVideo(req.Media)
	if !ok {
		return "", &publish.PreconditionError{Provider: providerName, Reason: ErrVideoRequired}
	}
	api := c.api.ForAccount(req.Account.ID)

	token, err := c.tokens.FreshAccessToken(ctx, req.Account)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", &publish.MissingFieldError{Provider: providerName, Step: "refresh access token", Field: "access_token"}
	}
	auth := http.Header{"Authorization": {"Bearer " + token}}

	asset, err := upload.Fetch(ctx, api.HTTP(), video)
	if err != nil {
		return "", err
	}
	defer asset.Remove()

	meta := BuildMetadata(req.Text, video, req.Options.Privacy)
	logutil.Debugf("youtube metadata: title=%q tags=%d privacy=%s", meta.Snippet.Title, len(meta.Snippet.Tags), meta.Status.PrivacyStatus)

	sessionURL, err := c.openSession(ctx, api, auth, asset, meta)
	if err != nil {
		return "", err
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, asset.Reader())
	if err != nil {
		return "", fmt.Errorf("upload video: build request: %w", err)
	}
	putReq.ContentLength = asset.Size
	putReq.Header = auth.Clone()
	putReq.Header.Set("Content-Type", asset.MimeType)

	logutil.Debugf("youtube upload: bytes=%d", asset.Size)
	var res struct {
		ID string `json:"id"`
	}
	if _, err := api.Do(putReq, "upload video", &res); err != nil {
		logutil.Warn("resumable upload session abandoned", "provider", providerName, "account", req.Account.ID)
		return "", err
	}
	if res.ID == "" {
		return "", &publish.MissingFieldError{Provider: providerName, Step: "upload video", Field: "id"}
	}
	return res.ID, nil
}

func (c *Client) openSession(ctx context.Context, api *httpapi.Client, auth http.Header, asset *upload.Asset, meta Metadata) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid upload endpoint %q: %w", c.endpoint, err)
	}
	q := u.Query()
	q.Set("uploadType", "resumable")
	q.Set("part", "snippet,status")
	u.RawQuery = q.Encode()

	header := auth.Clone()
	header.Set("X-Upload-Content-Length", strconv.FormatInt(asset.Size, 10))
	header.Set("X-Upload-Content-Type", asset.MimeType)

	respHeader, err := api.PostJSON(ctx, "start resumable session", u.String(), header, meta, nil)
	if err != nil {
		return "", err
	}
	location := respHeader.Get("Location")
	if location == "" {
		return "", &publish.MissingFieldError{Provider: providerName, Step: "start resumable session", Field: "Location"}
	}
	return location, nil
}

// BuildMetadata derives the upload metadata from the post text: the title is the first
// non-empty line, tags are the #hashtags and privacy defaults to public.
func BuildMetadata(text string, video publish.MediaItem, privacy string) Metadata {
	return Metadata{
		Snippet: Snippet{
			Title:       Title(text, video.Title),
			Description: text,
			Tags:        Tags(text),
			CategoryID:  categoryPeopleBlogs,
		},
		Status: Status{PrivacyStatus: Privacy(privacy)},
	}
}

// Title returns the first non-empty line of text, cut to 100 runes. fallback, then
// "Untitled", are used when text has no usable line.
func Title(text, fallback string) string {
	for _, candidate := range []string{firstLine(text), firstLine(fallback)} {
		if candidate != "" {
			return truncateRunes(candidate, maxTitleRunes)
		}
	}
	return "Untitled"
}

// Tags collects unique #hashtags in order of appearance, stopping before their combined
// length would exceed 500 characters.
func Tags(text string) []string {
	var (
		tags  []string
		seen  = map[string]bool{}
		total int
	)
	for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		tag := m[1]
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		n := utf8.RuneCountInString(tag)
		if total+n > maxTagChars {
			break
		}
		seen[key] = true
		total += n
		tags = append(tags, tag)
	}
	return tags
}

// Privacy normalizes a privacy option to public, unlisted or private.
func Privacy(value string) string {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "public", "unlisted", "private":
		return v
	default:
		return "public"
	}
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		// angle brackets are rejected in titles
		line = strings.NewReplacer("<", "", ">", "").Replace(strings.TrimSpace(line))
		if line != "" {
			return line
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
