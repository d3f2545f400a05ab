package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/xpublish/internal/publish"
	"github.com/blacktop/xpublish/internal/publish/tokens"
)

type fakeYouTube struct {
	videoBytes []byte
	meta       Metadata
	query      map[string]string
	headers    http.Header
	uploaded   []byte
	putType    string
	noLocation bool
	failPut    bool
	srvURL     string
}

func (f *fakeYouTube) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/cdn/clip.mp4":
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(f.videoBytes)
	case r.Method == http.MethodPost && r.URL.Path == "/upload/youtube/v3/videos":
		f.headers = r.Header.Clone()
		f.query = map[string]string{}
		for k := range r.URL.Query() {
			f.query[k] = r.URL.Query().Get(k)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.meta)
		if !f.noLocation {
			w.Header().Set("Location", f.srvURL+"/session/abc")
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && r.URL.Path == "/session/abc":
		f.uploaded, _ = io.ReadAll(r.Body)
		f.putType = r.Header.Get("Content-Type")
		if f.failPut {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"code":403,"message":"The user has exceeded the number of videos they may upload."}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"kind":"youtube#video","id":"dQw4w9WgXcQ"}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeYouTube, refresher tokens.Refresher) (*Client, string) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	fake.srvURL = srv.URL

	cfg := publish.DefaultConfig()
	cfg.Endpoints.YouTubeUpload = srv.URL + "/upload/youtube/v3/videos"
	return New(cfg, srv.Client(), refresher), srv.URL
}

func request(text string, media ...publish.MediaItem) publish.Request {
	return publish.Request{
		Account: publish.Account{ID: "yt-1", Credentials: publish.YouTubeCredentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh"}},
		Text:    text,
		Media:   media,
	}
}

func TestPostResumableUpload(t *testing.T) {
	fake := &fakeYouTube{videoBytes: []byte("fake video bytes")}
	c, base := newTestClient(t, fake, tokens.Static("fresh"))

	req := request("Launch day\nWe shipped it #golang #release",
		publish.MediaItem{URL: base + "/cdn/image.jpg", MimeType: "image/jpeg"},
		publish.MediaItem{URL: base + "/cdn/clip.mp4", MimeType: "video/mp4"},
	)
	req.Options.Privacy = "Unlisted"
	res := publish.Run(context.Background(), c, req)

	assert.Equal(t, publish.Result{Success: true, ExternalID: "dQw4w9WgXcQ"}, res)
	assert.Equal(t, "resumable", fake.query["uploadType"])
	assert.Equal(t, "snippet,status", fake.query["part"])
	assert.Equal(t, "Bearer fresh", fake.headers.Get("Authorization"))
	assert.Equal(t, "16", fake.headers.Get("X-Upload-Content-Length"))
	assert.Equal(t, "video/mp4", fake.headers.Get("X-Upload-Content-Type"))

	assert.Equal(t, "Launch day", fake.meta.Snippet.Title)
	assert.Equal(t, req.Text, fake.meta.Snippet.Description)
	assert.Equal(t, []string{"golang", "release"}, fake.meta.Snippet.Tags)
	assert.Equal(t, "unlisted", fake.meta.Status.PrivacyStatus)

	assert.Equal(t, fake.videoBytes, fake.uploaded)
	assert.Equal(t, "video/mp4", fake.putType)
}

func TestPostRequiresVideo(t *testing.T) {
	fake := &fakeYouTube{}
	c, base := newTestClient(t, fake, tokens.Static("fresh"))

	res := publish.Run(context.Background(), c, request("pic", publish.MediaItem{URL: base + "/cdn/image.jpg", MimeType: "image/jpeg"}))

	assert.Equal(t, publish.Result{Error: "YouTube requires a video to publish."}, res)
	assert.Nil(t, fake.query)
}

func TestPostMissingLocationIsProtocolError(t *testing.T) {
	fake := &fakeYouTube{videoBytes: []byte("v"), noLocation: true}
	c, base := newTestClient(t, fake, tokens.Static("fresh"))

	_, err := c.Post(context.Background(), request("x", publish.MediaItem{URL: base + "/cdn/clip.mp4", MimeType: "video/mp4"}))

	var missing *publish.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Location", missing.Field)
	assert.Nil(t, fake.uploaded)
}

type failingRefresher struct{}

func (failingRefresher) FreshAccessToken(context.Context, publish.Account) (string, error) {
	return "", errors.New("refresh token revoked")
}

func TestPostStopsWhenRefreshFails(t *testing.T) {
	fake := &fakeYouTube{videoBytes: []byte("v")}
	c, base := newTestClient(t, fake, failingRefresher{})

	res := publish.Run(context.Background(), c, request("x", publish.MediaItem{URL: base + "/cdn/clip.mp4", MimeType: "video/mp4"}))

	assert.False(t, res.Success)
	assert.Equal(t, "refresh token revoked", res.Error)
	assert.Nil(t, fake.query)
}

func TestTitle(t *testing.T) {
	long := strings.Repeat("é", 150)
	tests := []struct {
		name, text, fallback, want string
	}{
		{"first non-empty line", "\n\n  Hello world  \nsecond", "", "Hello world"},
		{"truncated to 100 runes", long, "", strings.Repeat("é", 100)},
		{"media title fallback", "   \n", "Clip title", "Clip title"},
		{"untitled", "", "", "Untitled"},
		{"angle brackets removed", "<b>Bold</b>", "", "bBold/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.text, tt.fallback))
		})
	}
}

func TestTagsDeduplicateAndCap(t *testing.T) {
	assert.Equal(t, []string{"Go", "cloud"}, Tags("#Go and #cloud and #go again"))
	assert.Nil(t, Tags("no tags"))

	var b strings.Builder
	for i := range 60 {
		fmt.Fprintf(&b, "#tag%06d ", i) // 9 characters each
	}
	tags := Tags(b.String())
	assert.Len(t, tags, 55)
	total := 0
	for _, tag := range tags {
		total += len(tag)
	}
	assert.LessOrEqual(t, total, 500)
}

func TestPrivacy(t *testing.T) {
	assert.Equal(t, "public", Privacy(""))
	assert.Equal(t, "private", Privacy(" PRIVATE "))
	assert.Equal(t, "unlisted", Privacy("unlisted"))
	assert.Equal(t, "public", Privacy("friends"))
}

func TestPostFailedUploadRemovesScratchFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	fake := &fakeYouTube{videoBytes: []byte("fake video bytes"), failPut: true}
	c, base := newTestClient(t, fake, tokens.Static("fresh"))

	res := publish.Run(context.Background(), c, request("clip", publish.MediaItem{URL: base + "/cdn/clip.mp4", MimeType: "video/mp4"}))

	assert.False(t, res.Success)
	assert.Equal(t, fake.videoBytes, fake.uploaded)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
