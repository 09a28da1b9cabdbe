package lookup

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"fuzzysearch/internal/apierr"
)

// MaxImageBytes is the hard cap on a fetched image's size, per spec
// §4.6's lookup_by_url.
const MaxImageBytes int64 = 10_000_000

// ImageFetcher downloads image bytes from a URL, capping the amount
// read at MaxImageBytes. The limiting idiom --
// io.LimitReader(resp.Body, max+1) followed by a length check that
// rejects the off-by-one overage -- is carried over from this
// codebase's internal/tools/web.Fetcher, adapted to a fixed cap
// instead of a configurable one.
type ImageFetcher struct {
	client *http.Client
}

// NewImageFetcher returns an ImageFetcher using client, or a default
// client if client is nil.
func NewImageFetcher(client *http.Client) *ImageFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &ImageFetcher{client: client}
}

// Fetch downloads rawURL and returns its body, or a BadRequestError if
// the advertised or actual size exceeds MaxImageBytes.
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apierr.BadRequest("invalid url: %v", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apierr.UpstreamUnavailable("fetching url", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.ContentLength > MaxImageBytes {
		return nil, apierr.BadRequest("image too large: %d bytes", resp.ContentLength)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.UpstreamUnavailable(fmt.Sprintf("fetch url returned status %d", resp.StatusCode), nil)
	}

	limited := io.LimitReader(resp.Body, MaxImageBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, apierr.UpstreamUnavailable("reading url body", err)
	}
	if int64(len(body)) > MaxImageBytes {
		return nil, apierr.BadRequest("image too large: %d bytes", len(body))
	}
	return body, nil
}
