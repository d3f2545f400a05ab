package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
	"github.com/blacktop/xpublish/internal/publish/httpapi"
)

// SessionState tracks a chunked upload through its protocol steps.
type SessionState string

const (
	StateInit       SessionState = "init"
	StateAppending  SessionState = "appending"
	StateFinalizing SessionState = "finalizing"
	StateProcessing SessionState = "processing"
	StateDone       SessionState = "done"
	StateFailed     SessionState = "failed"
)

// Processing states reported by FINALIZE and STATUS.
const (
	ProcessingPending    = "pending"
	ProcessingInProgress = "in_progress"
	ProcessingSucceeded  = "succeeded"
	ProcessingFailed     = "failed"
)

// Session is the lifetime of one chunked upload.
type Session struct {
	MediaID      string
	TotalBytes   int64
	SegmentIndex int
	State        SessionState
}

// Authorizer signs an outgoing request. form holds the url-encoded body parameters, if any.
type Authorizer interface {
	Authorize(req *http.Request, form url.Values) error
}

// ChunkedUploader speaks the INIT/APPEND/FINALIZE/STATUS media upload protocol, plus the
// single-request variant for small files.
type ChunkedUploader struct {
	// Provider names the network in errors and logs.
	Provider          string
	Endpoint          string
	API               *httpapi.Client
	Auth              Authorizer
	ChunkSize         int
	MaxStatusChecks   int
	DefaultCheckAfter time.Duration
	Waiter            publish.Waiter

	// OnSession, when set, observes every session state change.
	OnSession func(Session)
}

type uploadResponse struct {
	MediaIDString  string          `json:"media_id_string"`
	ProcessingInfo *processingInfo `json:"processing_info"`
}

type processingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
	Progress       int    `json:"progress_percent"`
	Error          *struct {
		Code    int    `json:"code"`
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// UploadSimple posts the whole asset in one multipart request and returns the media id.
func (u *ChunkedUploader) UploadSimple(ctx context.Context, asset *Asset) (string, error) {
	body, contentType, err := multipartBody(nil, "media", asset.Reader())
	if err != nil {
		return "", fmt.Errorf("simple upload: %w", err)
	}

	var res uploadResponse
	if err := u.send(ctx, "simple upload", http.MethodPost, u.Endpoint, body, contentType, nil, &res); err != nil {
		return "", err
	}
	if res.MediaIDString == "" {
		return "", &publish.MissingFieldError{Provider: u.provider(), Step: "simple upload", Field: "media_id_string"}
	}
	return res.MediaIDString, nil
}

// UploadChunked runs INIT, APPEND for every chunk, FINALIZE and, while the provider is still
// transcoding, STATUS. It returns the media id once processing succeeded.
func (u *ChunkedUploader) UploadChunked(ctx context.Context, asset *Asset, category string) (string, error) {
	sess := Session{TotalBytes: asset.Size, State: StateInit}
	u.observe(sess)

	id, err := u.run(ctx, asset, category, &sess)
	if err != nil {
		sess.State = StateFailed
		u.observe(sess)
		if sess.MediaID != "" {
			logutil.Warn("chunked upload abandoned", "provider", u.provider(), "media_id", sess.MediaID, "segment", sess.SegmentIndex)
		}
		return "", err
	}
	sess.State = StateDone
	u.observe(sess)
	return id, nil
}

func (u *ChunkedUploader) run(ctx context.Context, asset *Asset, category string, sess *Session) (string, error) {
	initForm := url.Values{
		"command":     {"INIT"},
		"total_bytes": {strconv.FormatInt(asset.Size, 10)},
		"media_type":  {asset.MimeType},
	}
	if category != "" {
		initForm.Set("media_category", category)
	}

	logutil.Debugf("initialize upload: media_type=%s bytes=%d", asset.MimeType, asset.Size)
	var initRes uploadResponse
	if err := u.sendForm(ctx, "upload INIT", initForm, &initRes); err != nil {
		return "", err
	}
	if initRes.MediaIDString == "" {
		return "", &publish.MissingFieldError{Provider: u.provider(), Step: "upload INIT", Field: "media_id_string"}
	}
	sess.MediaID = initRes.MediaIDString
	sess.State = StateAppending
	u.observe(*sess)

	chunk := int64(u.ChunkSize)
	for off := int64(0); off < asset.Size; off += chunk {
		n := min(chunk, asset.Size-off)
		fields := map[string]string{
			"command":       "APPEND",
			"media_id":      sess.MediaID,
			"segment_index": strconv.Itoa(sess.SegmentIndex),
		}
		body, contentType, err := multipartBody(fields, "media", asset.Section(off, n))
		if err != nil {
			return "", fmt.Errorf("upload APPEND: %w", err)
		}
		logutil.Debugf("append upload: media_id=%s segment=%d bytes=%d", sess.MediaID, sess.SegmentIndex, n)
		if err := u.send(ctx, "upload APPEND", http.MethodPost, u.Endpoint, body, contentType, nil, nil); err != nil {
			return "", err
		}
		sess.SegmentIndex++
		u.observe(*sess)
	}

	sess.State = StateFinalizing
	u.observe(*sess)
	var finRes uploadResponse
	if err := u.sendForm(ctx, "upload FINALIZE", url.Values{"command": {"FINALIZE"}, "media_id": {sess.MediaID}}, &finRes); err != nil {
		return "", err
	}

	if finRes.ProcessingInfo != nil {
		sess.State = StateProcessing
		u.observe(*sess)
		if err := u.awaitProcessing(ctx, sess.MediaID, finRes.ProcessingInfo); err != nil {
			return "", err
		}
	}
	return sess.MediaID, nil
}

func (u *ChunkedUploader) awaitProcessing(ctx context.Context, mediaID string, info *processingInfo) error {
	checks := 0
	for {
		logutil.Debugf("processing state=%s media_id=%s progress=%d", info.State, mediaID, info.Progress)
		switch info.State {
		case "", ProcessingSucceeded:
			return nil
		case ProcessingFailed:
			detail := ""
			if info.Error != nil {
				detail = strings.TrimSpace(info.Error.Name + " " + info.Error.Message)
			}
			return &publish.ProcessingError{Provider: u.provider(), Step: "media processing", State: info.State, Detail: detail}
		case ProcessingPending, ProcessingInProgress:
		default:
			return &publish.ProcessingError{Provider: u.provider(), Step: "media processing", State: info.State, Detail: "unknown state"}
		}

		if checks >= u.MaxStatusChecks {
			return &publish.TimeoutError{Provider: u.provider(), Step: "media processing", Attempts: checks}
		}

		wait := time.Duration(info.CheckAfterSecs) * time.Second
		if wait <= 0 {
			wait = u.DefaultCheckAfter
		}
		if err := u.Waiter.Wait(ctx, wait); err != nil {
			return fmt.Errorf("media processing: %w", err)
		}

		statusURL := u.Endpoint + "?" + url.Values{"command": {"STATUS"}, "media_id": {mediaID}}.Encode()
		var res uploadResponse
		if err := u.send(ctx, "upload STATUS", http.MethodGet, statusURL, nil, "", nil, &res); err != nil {
			return err
		}
		checks++
		if res.ProcessingInfo == nil {
			return nil
		}
		info = res.ProcessingInfo
	}
}

func (u *ChunkedUploader) sendForm(ctx context.Context, step string, form url.Values, out any) error {
	return u.send(ctx, step, http.MethodPost, u.Endpoint, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", form, out)
}

func (u *ChunkedUploader) send(ctx context.Context, step, method, endpoint string, body io.Reader, contentType string, signed url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", step, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if u.Auth != nil {
		if err := u.Auth.Authorize(req, signed); err != nil {
			return fmt.Errorf("%s: sign request: %w", step, err)
		}
	}
	_, err = u.API.Do(req, step, out)
	return err
}

func (u *ChunkedUploader) observe(s Session) {
	if u.OnSession != nil {
		u.OnSession(s)
	}
}

func (u *ChunkedUploader) provider() string {
	if u.Provider == "" {
		return "upload"
	}
	return u.Provider
}

func multipartBody(fields map[string]string, fileField string, data io.Reader) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, k := range []string{"command", "media_id", "segment_index"} {
		if v, ok := fields[k]; ok {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
	}
	part, err := w.CreateFormFile(fileField, "blob")
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
