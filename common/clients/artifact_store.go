package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lyzr/tufstash/common/models"
)

// DefaultArtifactBaseURL is where CI publishes per-commit TUF repo artifacts
const DefaultArtifactBaseURL = "https://buildomat.eng.oxide.computer/public/file/oxidecomputer/omicron/rot-all"

// Common errors.
var (
	ErrNotFound    = errors.New("artifact store: artifact not found")
	ErrUnavailable = errors.New("artifact store: unavailable")
)

// StatusError is returned when the artifact store answers with a non-success status
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("artifact store returned %d", e.Code)
}

// Is lets errors.Is match a 404 against ErrNotFound and anything else against ErrUnavailable
func (e *StatusError) Is(target error) bool {
	if target == ErrNotFound {
		return e.Code == http.StatusNotFound
	}
	return target == ErrUnavailable
}

// Download is an open artifact body
type Download struct {
	// Body must be closed by the caller. Closing it early releases the connection.
	Body io.ReadCloser

	// Size is the declared Content-Length, 0 when the store did not declare one
	Size int64

	// ContentType is the store's Content-Type header, possibly empty
	ContentType string
}

// ArtifactStore fetches artifacts for a commit
type ArtifactStore interface {
	Fetch(ctx context.Context, commit string, role models.Role) (*Download, error)
}

// ArtifactStoreOptions configures the HTTP artifact store client
type ArtifactStoreOptions struct {
	// BaseURL is joined with "/<commit>/<remote filename>"
	BaseURL string

	// ResponseHeaderTimeout bounds the wait for response headers; bodies are not bounded.
	// Default: 30s
	ResponseHeaderTimeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// UserAgent sent with every request
	UserAgent string
}

// HTTPArtifactStore streams artifacts over HTTP. It never retries.
type HTTPArtifactStore struct {
	http    *HTTPClient
	baseURL string
	log     Logger
}

// NewHTTPArtifactStore creates an artifact store client
func NewHTTPArtifactStore(opts ArtifactStoreOptions, log Logger) *HTTPArtifactStore {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultArtifactBaseURL
	}
	if opts.ResponseHeaderTimeout == 0 {
		opts.ResponseHeaderTimeout = 30 * time.Second
	}
	if opts.MaxIdleConnsPerHost == 0 {
		opts.MaxIdleConnsPerHost = 16
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		DisableCompression:    true, // byte counts must match Content-Length
	}

	return &HTTPArtifactStore{
		http:    NewHTTPClient(&http.Client{Transport: transport}, log, opts.UserAgent),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		log:     log,
	}
}

// URLFor returns the artifact URL for the full commit and role
func (s *HTTPArtifactStore) URLFor(commit string, role models.Role) string {
	return s.baseURL + "/" + url.PathEscape(commit) + "/" + role.RemoteName()
}

// Fetch issues one GET for the artifact and returns its body unread
func (s *HTTPArtifactStore) Fetch(ctx context.Context, commit string, role models.Role) (*Download, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidRole, role)
	}

	artifactURL := s.URLFor(commit, role)
	resp, err := s.http.DoRequest(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		s.log.Warn("artifact fetch rejected", "url", artifactURL, "status", resp.StatusCode)
		return nil, &StatusError{Code: resp.StatusCode, URL: artifactURL}
	}

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}

	s.log.Debug("artifact fetch started", "url", artifactURL, "content_length", size)

	return &Download{
		Body:        resp.Body,
		Size:        size,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
