package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPContentReader reads input images from http(s) URLs
type HTTPContentReader struct {
	baseURL string
	http    *resty.Client
}

// NewHTTPContentReader creates a reader. Keys that are not absolute URLs are
// resolved against baseURL, which may be empty.
func NewHTTPContentReader(baseURL string) *HTTPContentReader {
	return &HTTPContentReader{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    resty.New().SetTimeout(60 * time.Second),
	}
}

// NewHTTPContentReaderWithClient uses a custom HTTP client as transport
func NewHTTPContentReaderWithClient(baseURL string, httpClient *http.Client) *HTTPContentReader {
	return &HTTPContentReader{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    resty.NewWithClient(httpClient),
	}
}

// IsURL reports whether ref names an http(s) resource
func IsURL(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (cr *HTTPContentReader) url(key string) string {
	if IsURL(key) || cr.baseURL == "" {
		return key
	}
	return cr.baseURL + "/" + strings.TrimLeft(key, "/")
}

// GetReader streams the body of the resource at key
func (cr *HTTPContentReader) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := cr.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(cr.url(key))
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}

	body := resp.RawBody()
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	case resp.StatusCode() != http.StatusOK:
		body.Close()
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode())
	}

	return body, nil
}

// Exists checks if the resource exists
func (cr *HTTPContentReader) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := cr.http.R().SetContext(ctx).Head(cr.url(key))
	if err != nil {
		return false, fmt.Errorf("failed to check content: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
}

// GetMetadata returns size, type and ETag from a HEAD request
func (cr *HTTPContentReader) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	resp, err := cr.http.R().SetContext(ctx).Head(cr.url(key))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	case http.StatusMethodNotAllowed:
		// some hosts refuse HEAD; the body still carries everything LoadImage needs
		return &Metadata{}, nil
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	meta := &Metadata{
		ContentType: resp.Header().Get("Content-Type"),
		ETag:        resp.Header().Get("ETag"),
	}
	if size, err := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64); err == nil {
		meta.Size = size
	}
	return meta, nil
}
