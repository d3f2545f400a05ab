// Package upload moves remote media into scratch files and pushes their bytes to providers
// that want binary uploads rather than URLs.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
)

// Asset is a downloaded media item backed by a temporary file. It belongs to exactly
// one publish call, which must Remove it on every exit path.
type Asset struct {
	Item     publish.MediaItem
	MimeType string
	Size     int64

	path string
	file *os.File
}

// Fetch downloads item.URL into a scratch file. Non-2xx responses fail fast.
func Fetch(ctx context.Context, hc *http.Client, item publish.MediaItem) (*Asset, error) {
	if strings.TrimSpace(item.URL) == "" {
		return nil, errors.New("download media: empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}

	logutil.Debugf("downloading media: url=%s", item.URL)
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &publish.StatusError{Provider: "media", Step: "download " + item.URL, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	file, err := os.CreateTemp("", "xpublish-media-*")
	if err != nil {
		return nil, fmt.Errorf("download media: create scratch file: %w", err)
	}
	asset := &Asset{Item: item, MimeType: item.MimeType, path: file.Name(), file: file}

	n, err := io.Copy(file, resp.Body)
	if err != nil {
		asset.Remove()
		return nil, fmt.Errorf("download media: %w", err)
	}
	asset.Size = n
	if asset.MimeType == "" {
		asset.MimeType = resp.Header.Get("Content-Type")
	}
	logutil.Debugf("media downloaded: bytes=%d path=%s", n, file.Name())

	return asset, nil
}

// Path is the scratch file location.
func (a *Asset) Path() string { return a.path }

// Reader returns a reader over the whole asset, independent of other readers.
func (a *Asset) Reader() io.Reader { return io.NewSectionReader(a.file, 0, a.Size) }

// Section returns a reader over [off, off+n).
func (a *Asset) Section(off, n int64) io.Reader { return io.NewSectionReader(a.file, off, n) }

// Remove closes and deletes the scratch file. It is safe to call more than once.
func (a *Asset) Remove() error {
	if a == nil || a.file == nil {
		return nil
	}
	a.file.Close()
	a.file = nil
	if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logutil.Warnf("remove scratch file %s: %v", a.path, err)
		return err
	}
	return nil
}
