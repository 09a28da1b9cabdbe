package webhook

import (
	"context"

	"fuzzysearch/internal/model"
)

// DispatchNewSubmission is the new_submission job handler: given the
// full subscriber list and a payload, it enqueues one send_webhook job
// per matching subscriber via publish. Kept as a pure function (no
// Kafka types) so the matching/fan-out logic is unit-testable without
// a broker.
func DispatchNewSubmission(ctx context.Context, payload model.WebhookPayload, subscribers []model.WebhookSubscriber, publish func(context.Context, SendWebhookJob) error) error {
	sub := model.Submission{Site: payload.Site}
	if payload.Artist != "" {
		sub.Artists = []string{payload.Artist}
	}
	for _, s := range subscribers {
		if !s.Matches(sub) {
			continue
		}
		job := SendWebhookJob{Payload: payload, EndpointURL: s.EndpointURL}
		if err := publish(ctx, job); err != nil {
			return err
		}
	}
	return nil
}
