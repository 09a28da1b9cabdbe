package hashinput

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"fuzzysearch/internal/apierr"
	"fuzzysearch/internal/model"
)

// Client implements lookup.Hasher by POSTing to a remote Hash-Input
// Service, for deployments that run it as a separate process
// (ENDPOINT_HASH_INPUT set). Most single-process deployments instead
// hold a *phash.Hasher directly and never construct a Client.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient targets endpoint (e.g. "http://hash-input:8081/hash").
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: endpoint, http: httpClient}
}

// Hash uploads data as a multipart "image" part and parses the
// decimal hash from the response body.
func (c *Client) Hash(ctx context.Context, data []byte) (model.Hash, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "upload")
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, apierr.UpstreamUnavailable("hash-input service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, apierr.UpstreamUnavailable("reading hash-input response", err)
	}

	if resp.StatusCode == http.StatusBadRequest {
		return 0, apierr.BadRequest("hash-input rejected image: %s", raw)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, apierr.UpstreamUnavailable(fmt.Sprintf("hash-input service returned status %d", resp.StatusCode), nil)
	}

	v, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return 0, apierr.UpstreamUnavailable("malformed hash-input response", err)
	}
	return model.Hash(v), nil
}
