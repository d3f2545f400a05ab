package upload

import (
	"context"
	"errors"
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
	"github.com/blacktop/xpublish/internal/publish/httpapi"
)

type recordingWaiter struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *recordingWaiter) Wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits = append(w.waits, d)
	return ctx.Err()
}

type call struct {
	Command      string
	SegmentIndex string
	Bytes        int
	Signed       bool
}

// fakeUploadServer serves media downloads under /media and the upload protocol under /upload.
type fakeUploadServer struct {
	t       *testing.T
	payload []byte

	mu       sync.Mutex
	calls    []call
	statuses []string // successive STATUS states
	finalize string   // FINALIZE processing state; empty means no processing_info
}

func (f *fakeUploadServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(f.payload)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		c := call{Signed: strings.HasPrefix(r.Header.Get("Authorization"), "OAuth")}
		switch {
		case r.Method == http.MethodGet:
			c.Command = r.URL.Query().Get("command")
		case strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/"):
			require.NoError(f.t, r.ParseMultipartForm(32<<20))
			c.Command = r.FormValue("command")
			c.SegmentIndex = r.FormValue("segment_index")
			file, _, err := r.FormFile("media")
			require.NoError(f.t, err)
			data, _ := io.ReadAll(file)
			c.Bytes = len(data)
			if c.Command == "" {
				c.Command = "SIMPLE"
			}
		default:
			require.NoError(f.t, r.ParseForm())
			c.Command = r.PostForm.Get("command")
		}

		f.mu.Lock()
		f.calls = append(f.calls, c)
		f.mu.Unlock()

		switch c.Command {
		case "INIT":
			fmt.Fprint(w, `{"media_id":710511363345354753,"media_id_string":"710511363345354753"}`)
		case "APPEND":
			w.WriteHeader(http.StatusNoContent)
		case "FINALIZE":
			if f.finalize == "" {
				fmt.Fprint(w, `{"media_id_string":"710511363345354753"}`)
				return
			}
			fmt.Fprintf(w, `{"media_id_string":"710511363345354753","processing_info":{"state":%q,"check_after_secs":3}}`, f.finalize)
		case "STATUS":
			f.mu.Lock()
			state := "in_progress"
			if len(f.statuses) > 0 {
				state, f.statuses = f.statuses[0], f.statuses[1:]
			}
			f.mu.Unlock()
			if state == "failed" {
				fmt.Fprint(w, `{"processing_info":{"state":"failed","error":{"code":1,"name":"InvalidMedia","message":"Invalid media"}}}`)
				return
			}
			fmt.Fprintf(w, `{"processing_info":{"state":%q,"check_after_secs":1}}`, state)
		case "SIMPLE":
			fmt.Fprint(w, `{"media_id_string":"99"}`)
		default:
			http.Error(w, "bad command", http.StatusBadRequest)
		}
	})
	return mux
}

func (f *fakeUploadServer) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Command
	}
	return out
}

type signAll struct{}

func (signAll) Authorize(req *http.Request, form url.Values) error {
	req.Header.Set("Authorization", "OAuth test")
	return nil
}

func newUploader(srv *httptest.Server, chunk int, waiter publish.Waiter) *ChunkedUploader {
	return &ChunkedUploader{
		Provider:          "twitter",
		Endpoint:          srv.URL + "/upload",
		API:               httpapi.New("twitter", srv.Client()),
		Auth:              signAll{},
		ChunkSize:         chunk,
		MaxStatusChecks:   4,
		DefaultCheckAfter: 5 * time.Second,
		Waiter:            waiter,
	}
}

func fetch(t *testing.T, srv *httptest.Server) *Asset {
	t.Helper()
	asset, err := Fetch(context.Background(), srv.Client(), publish.MediaItem{URL: srv.URL + "/media", MimeType: "video/mp4"})
	require.NoError(t, err)
	t.Cleanup(func() { asset.Remove() })
	return asset
}

func TestFetchDownloadsIntoScratchFileAndRemoves(t *testing.T) {
	fake := &fakeUploadServer{t: t, payload: []byte("0123456789")}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	asset, err := Fetch(context.Background(), srv.Client(), publish.MediaItem{URL: srv.URL + "/media"})
	require.NoError(t, err)

	assert.Equal(t, int64(10), asset.Size)
	assert.Equal(t, "video/mp4", asset.MimeType, "falls back to the response content type")
	data, err := io.ReadAll(asset.Reader())
	require.NoError(t, err)
	assert.Equal(t, fake.payload, data)

	require.NoError(t, asset.Remove())
	_, err = os.Stat(asset.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist), "scratch file must be gone")
	assert.NoError(t, asset.Remove(), "second remove is a no-op")
}

func TestFetchFailsFastOnNon2xx(t *testing.T) {
	fake := &fakeUploadServer{t: t}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.Client(), publish.MediaItem{URL: srv.URL + "/missing"})
	var statusErr *publish.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestUploadChunkedSplitsIntoOrderedSegments(t *testing.T) {
	tests := []struct {
		size, chunk int
		want        []int
	}{
		{size: 10, chunk: 4, want: []int{4, 4, 2}},
		{size: 8, chunk: 4, want: []int{4, 4}},
		{size: 3, chunk: 4, want: []int{3}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_by_%d", tt.size, tt.chunk), func(t *testing.T) {
			fake := &fakeUploadServer{t: t, payload: []byte(strings.Repeat("x", tt.size))}
			srv := httptest.NewServer(fake.handler())
			defer srv.Close()

			var states []SessionState
			up := newUploader(srv, tt.chunk, &recordingWaiter{})
			up.OnSession = func(s Session) { states = append(states, s.State) }

			id, err := up.UploadChunked(context.Background(), fetch(t, srv), "tweet_video")
			require.NoError(t, err)
			assert.Equal(t, "710511363345354753", id)

			var sizes []int
			for i, c := range fake.calls {
				if c.Command != "APPEND" {
					continue
				}
				assert.Equal(t, fmt.Sprint(len(sizes)), c.SegmentIndex, "segment index of call %d", i)
				sizes = append(sizes, c.Bytes)
			}
			assert.Equal(t, tt.want, sizes)

			cmds := fake.commands()
			assert.Equal(t, "INIT", cmds[0])
			assert.Equal(t, "FINALIZE", cmds[len(cmds)-1], "FINALIZE is sent after every chunk")
			for _, c := range fake.calls {
				assert.True(t, c.Signed, "%s must be signed", c.Command)
			}
			assert.Equal(t, StateDone, states[len(states)-1])
		})
	}
}

func TestUploadChunkedPollsStatusUntilSucceeded(t *testing.T) {
	fake := &fakeUploadServer{t: t, payload: []byte("abc"), finalize: "pending", statuses: []string{"in_progress", "succeeded"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	waiter := &recordingWaiter{}
	id, err := newUploader(srv, 1024, waiter).UploadChunked(context.Background(), fetch(t, srv), "tweet_video")
	require.NoError(t, err)

	assert.Equal(t, "710511363345354753", id)
	assert.Equal(t, []string{"INIT", "APPEND", "FINALIZE", "STATUS", "STATUS"}, fake.commands())
	assert.Equal(t, []time.Duration{3 * time.Second, time.Second}, waiter.waits, "waits follow check_after_secs")
}

func TestUploadChunkedReportsProcessingFailure(t *testing.T) {
	fake := &fakeUploadServer{t: t, payload: []byte("abc"), finalize: "in_progress", statuses: []string{"failed"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	var last Session
	up := newUploader(srv, 1024, &recordingWaiter{})
	up.OnSession = func(s Session) { last = s }

	_, err := up.UploadChunked(context.Background(), fetch(t, srv), "tweet_video")
	var procErr *publish.ProcessingError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, "failed", procErr.State)
	assert.Contains(t, procErr.Detail, "InvalidMedia")
	assert.Equal(t, StateFailed, last.State)
}

func TestUploadChunkedTimesOutAfterStatusBudget(t *testing.T) {
	fake := &fakeUploadServer{t: t, payload: []byte("abc"), finalize: "pending"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	waiter := &recordingWaiter{}
	_, err := newUploader(srv, 1024, waiter).UploadChunked(context.Background(), fetch(t, srv), "tweet_video")

	var timeoutErr *publish.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 4, timeoutErr.Attempts)
	assert.Len(t, waiter.waits, 4)
}

func TestUploadSimpleSendsWholeFile(t *testing.T) {
	fake := &fakeUploadServer{t: t, payload: []byte("pngbytes")}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	id, err := newUploader(srv, 2, &recordingWaiter{}).UploadSimple(context.Background(), fetch(t, srv))
	require.NoError(t, err)

	assert.Equal(t, "99", id)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, len(fake.payload), fake.calls[0].Bytes)
}
