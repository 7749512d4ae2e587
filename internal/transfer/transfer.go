// Package transfer performs identified HTTP requests and streamed downloads.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// DefaultUserAgent is sent with every request. Some hosts reject requests
// with an empty or default Go user agent.
const DefaultUserAgent = "Mozilla/5.0 (compatible; modsync)"

// bufferSize is the chunk size used when streaming a body to disk.
const bufferSize = 8192

// Getter issues identified GET requests.
type Getter interface {
	// Get performs a GET request and returns the response if the status is
	// 2xx. The caller must close the response body.
	Get(ctx context.Context, url string) (*http.Response, error)
}

// StatusError is returned when a server answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %s", e.URL, e.Status)
}

// Client downloads remote resources onto a filesystem.
type Client struct {
	fs        afero.Fs
	http      *http.Client
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeout sets an overall timeout on each request. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient creates a transfer client writing to fs.
func NewClient(fs afero.Fs, opts ...Option) *Client {
	c := &Client{
		fs:        fs,
		http:      &http.Client{},
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserAgent returns the User-Agent header value sent by the client.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Get implements Getter.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return resp, nil
}

// Download streams the resource at url into dest, creating the parent
// directory and overwriting any existing file. It returns the number of
// bytes written. A transfer that fails partway leaves the partial file in
// place.
func (c *Client) Download(ctx context.Context, url, dest string) (int64, error) {
	if err := c.fs.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("failed to create parent directory: %w", err)
	}

	resp, err := c.Get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	out, err := c.fs.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", dest, err)
	}

	n, err := copyChunked(out, resp.Body)
	if err != nil {
		_ = out.Close()
		return n, fmt.Errorf("failed to write %s: %w", dest, err)
	}

	if err := out.Close(); err != nil {
		return n, fmt.Errorf("failed to close %s: %w", dest, err)
	}

	return n, nil
}

// copyChunked copies src to dst through a fixed-size buffer.
func copyChunked(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, bufferSize)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
