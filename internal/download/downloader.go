// Package download fetches hearing videos over HTTP or, for HLS playlist
// URLs, by remuxing the stream with ffmpeg. Transient failures are tagged
// so the scheduler can retry them with backoff; terminal ones are not.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrTransient marks a failure worth retrying: network-level errors and
// HTTP statuses that indicate a temporary server condition.
var ErrTransient = errors.New("transient download failure")

// defaultHTTPClient carries explicit timeouts for large video bodies. The
// overall request has no deadline; cancellation comes from the context.
var defaultHTTPClient = &http.Client{
	Transport: &http.Transport{
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	},
}

// httpDoer abstracts the HTTP client for testing.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// streamRemuxer remuxes an HLS playlist into a local MP4 file.
type streamRemuxer interface {
	RemuxStream(ctx context.Context, url, dest string) error
}

// Downloader fetches one video at a time into a destination file. It is
// stateless and safe for concurrent use.
type Downloader struct {
	http  httpDoer
	remux streamRemuxer
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithHTTPClient sets the HTTP client implementation.
func WithHTTPClient(c httpDoer) DownloaderOption {
	return func(d *Downloader) { d.http = c }
}

// NewDownloader creates a Downloader. The remuxer handles HLS playlist
// URLs; plain file URLs go through the HTTP client.
func NewDownloader(remux streamRemuxer, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		http:  defaultHTTPClient,
		remux: remux,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// isStreamURL reports whether the URL points at an HLS playlist rather
// than a downloadable file.
func isStreamURL(url string) bool {
	return strings.HasSuffix(url, ".m3u8") || strings.Contains(url, "HLS")
}

// retryableStatus reports whether an HTTP status indicates a temporary
// condition. Client errors other than timeout and rate limiting are
// terminal: retrying a 404 never helps.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// Fetch downloads url into dest and returns the byte size of the result.
// If dest already exists the download is skipped and the existing size
// returned, which makes re-dispatch after a crash idempotent. The body
// streams through a temp file that is renamed into place only on success,
// so dest never holds a partial download.
func (d *Downloader) Fetch(ctx context.Context, url, dest string) (int64, error) {
	if info, err := os.Stat(dest); err == nil {
		return info.Size(), nil
	}

	if isStreamURL(url) {
		if err := d.remux.RemuxStream(ctx, url, dest); err != nil {
			return 0, fmt.Errorf("%w: remux stream: %v", ErrTransient, err)
		}
		info, err := os.Stat(dest)
		if err != nil {
			return 0, fmt.Errorf("stat remuxed file: %w", err)
		}
		return info.Size(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if retryableStatus(resp.StatusCode) {
			return 0, fmt.Errorf("%w: server returned %s", ErrTransient, resp.Status)
		}
		return 0, fmt.Errorf("server returned %s", resp.Status)
	}

	tmp := dest + ".downloading"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("%w: write body: %v", ErrTransient, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("finalize download: %w", err)
	}
	return n, nil
}
