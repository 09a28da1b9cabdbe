package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const deliverTimeout = 3 * time.Second

// Deliver POSTs job's payload as JSON to its endpoint. Any non-2xx
// status or transport error is returned so the caller can apply the
// job-level retry policy.
func Deliver(ctx context.Context, client *http.Client, job SendWebhookJob) error {
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery to %s: status %d", job.EndpointURL, resp.StatusCode)
	}
	return nil
}
