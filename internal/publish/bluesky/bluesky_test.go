package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/xpublish/internal/publish"
)

type fakePDS struct {
	mu          sync.Mutex
	login       map[string]any
	record      map[string]any
	recordAuth  string
	getRecord   url.Values
	rejectLogin bool
	blobUploads int
}

func (f *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/cdn/") {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png bytes"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/xrpc/com.atproto.server.createSession":
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.login)
		if f.rejectLogin {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`)
			return
		}
		fmt.Fprint(w, `{"accessJwt":"access-jwt","refreshJwt":"refresh-jwt","handle":"alice.test","did":"did:plc:alice"}`)
	case "/xrpc/com.atproto.repo.getRecord":
		f.getRecord = r.URL.Query()
		fmt.Fprint(w, `{
			"uri":"at://did:plc:bob/app.bsky.feed.post/parent",
			"cid":"bafyparent",
			"value":{
				"$type":"app.bsky.feed.post",
				"text":"parent",
				"createdAt":"2025-01-01T00:00:00Z",
				"reply":{
					"root":{"uri":"at://did:plc:bob/app.bsky.feed.post/root","cid":"bafyroot"},
					"parent":{"uri":"at://did:plc:bob/app.bsky.feed.post/root","cid":"bafyroot"}
				}
			}
		}`)
	case "/xrpc/com.atproto.repo.uploadBlob":
		f.blobUploads++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"BlobTooLarge","message":"This file is too large"}`)
	case "/xrpc/com.atproto.repo.createRecord":
		f.recordAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.record)
		fmt.Fprint(w, `{"uri":"at://did:plc:alice/app.bsky.feed.post/3kabc","cid":"bafyrecord"}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakePDS) *Client {
	t.Helper()
	c, _ := newTestClientURL(t, fake)
	return c
}

func newTestClientURL(t *testing.T, fake *fakePDS) (*Client, string) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := publish.DefaultConfig()
	cfg.Endpoints.BlueskyPDS = srv.URL
	c := New(cfg, srv.Client())
	c.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return c, srv.URL
}

func request(text string) publish.Request {
	return publish.Request{
		Account: publish.Account{ID: "bs-1", Credentials: publish.BlueskyCredentials{Handle: "alice.test", AppPassword: "app-pass"}},
		Text:    text,
	}
}

func TestPostTextRecord(t *testing.T) {
	fake := &fakePDS{}
	c := newTestClient(t, fake)

	res := publish.Run(context.Background(), c, request("read https://example.com/post."))

	assert.Equal(t, publish.Result{Success: true, ExternalID: "at://did:plc:alice/app.bsky.feed.post/3kabc"}, res)
	assert.Equal(t, "alice.test", fake.login["identifier"])
	assert.Equal(t, "app-pass", fake.login["password"])
	assert.Equal(t, "Bearer access-jwt", fake.recordAuth)

	assert.Equal(t, "did:plc:alice", fake.record["repo"])
	assert.Equal(t, "app.bsky.feed.post", fake.record["collection"])
	rec, ok := fake.record["record"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "read https://example.com/post.", rec["text"])
	assert.Equal(t, "2025-06-01T12:00:00Z", rec["createdAt"])

	facets, ok := rec["facets"].([]any)
	require.True(t, ok)
	require.Len(t, facets, 1)
	facet := facets[0].(map[string]any)
	index := facet["index"].(map[string]any)
	assert.Equal(t, float64(5), index["byteStart"])
	assert.Equal(t, float64(29), index["byteEnd"])
	feature := facet["features"].([]any)[0].(map[string]any)
	assert.Equal(t, "https://example.com/post", feature["uri"])
}

func TestPostReplyInheritsThreadRoot(t *testing.T) {
	fake := &fakePDS{}
	c := newTestClient(t, fake)

	req := request("agreed")
	req.Options.ReplyToID = "at://did:plc:bob/app.bsky.feed.post/parent"
	_, err := c.Post(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "did:plc:bob", fake.getRecord.Get("repo"))
	assert.Equal(t, "app.bsky.feed.post", fake.getRecord.Get("collection"))
	assert.Equal(t, "parent", fake.getRecord.Get("rkey"))

	reply := fake.record["record"].(map[string]any)["reply"].(map[string]any)
	assert.Equal(t, "bafyroot", reply["root"].(map[string]any)["cid"])
	assert.Equal(t, "bafyparent", reply["parent"].(map[string]any)["cid"])
	assert.Equal(t, "at://did:plc:bob/app.bsky.feed.post/parent", reply["parent"].(map[string]any)["uri"])
}

func TestPostRejectsMalformedReplyTarget(t *testing.T) {
	fake := &fakePDS{}
	c := newTestClient(t, fake)

	req := request("agreed")
	req.Options.ReplyToID = "12345"
	_, err := c.Post(context.Background(), req)

	var verr publish.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Nil(t, fake.record)
}

func TestPostLoginFailure(t *testing.T) {
	fake := &fakePDS{rejectLogin: true}
	c := newTestClient(t, fake)

	res := publish.Run(context.Background(), c, request("hi"))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "login")
	assert.Nil(t, fake.record)
}

func TestPostEmptyIsRejected(t *testing.T) {
	fake := &fakePDS{}
	c := newTestClient(t, fake)

	res := publish.Run(context.Background(), c, request(""))

	assert.Equal(t, publish.Result{Error: "Bluesky requires text or media to publish."}, res)
	assert.Nil(t, fake.login)
}

func TestSplitRecordURI(t *testing.T) {
	repo, collection, rkey, err := splitRecordURI("at://did:plc:x/app.bsky.feed.post/abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"did:plc:x", "app.bsky.feed.post", "abc"}, []string{repo, collection, rkey})

	for _, bad := range []string{"", "at://did:plc:x", "https://bsky.app/profile/x/post/abc", "at://did/coll/"} {
		_, _, _, err := splitRecordURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestPostBlobFailureRemovesScratchFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	fake := &fakePDS{}
	c, base := newTestClientURL(t, fake)

	req := request("pic")
	req.Media = []publish.MediaItem{{URL: base + "/cdn/a.png", MimeType: "image/png"}}
	res := publish.Run(context.Background(), c, req)

	assert.False(t, res.Success)
	assert.Equal(t, 1, fake.blobUploads)
	assert.Nil(t, fake.record)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
