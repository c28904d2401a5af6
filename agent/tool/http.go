package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
)

const (
	maxResponseSizeBytes = 8 << 20
	defaultHTTPTimeout   = 20 * time.Second
	userAgent            = "owid-chain/1.0 (+https://github.com/tanpawarit/owid-chain)"
)

// Option customizes an adapter's HTTP transport.
type Option func(*fetcher)

func WithHTTPClient(client *http.Client) Option {
	return func(f *fetcher) {
		if client != nil {
			f.httpClient = client
		}
	}
}

// WithMaxResponseBytes caps the size of an upstream body. A larger body
// fails the call instead of being cut short.
func WithMaxResponseBytes(n int64) Option {
	return func(f *fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// fetcher performs single-attempt GETs against a knowledge source.
type fetcher struct {
	baseURL    string
	httpClient *http.Client
	maxBody    int64
}

func newFetcher(baseURL string, timeout time.Duration, opts ...Option) (*fetcher, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	f := &fetcher{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		maxBody:    maxResponseSizeBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// get returns the response body. A 404 is reported as ErrUpstreamNotFound,
// any other non-2xx status as ErrToolInvocation.
func (f *fetcher) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := f.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", contractx.ErrToolInvocation, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: execute request: %v", contractx.ErrToolInvocation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", contractx.ErrToolInvocation, err)
	}
	oversize := int64(len(raw)) > f.maxBody
	if oversize {
		raw = raw[:f.maxBody]
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", contractx.ErrUpstreamNotFound, path)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: http status=%d body=%s", contractx.ErrToolInvocation, resp.StatusCode, truncateRunes(string(raw), 200))
	}
	if oversize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", contractx.ErrToolInvocation, f.maxBody)
	}
	return raw, nil
}
