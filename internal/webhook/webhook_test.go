package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuzzysearch/internal/model"
)

type fakeProducer struct {
	messages []kafka.Message
}

func (f *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.messages = append(f.messages, msgs...)
	return nil
}

func TestPublisher_PublishNewSubmission_SerializesHashAsBase64(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewPublisher(producer, "new_submission")

	hash := "0000000000000000"
	payload := model.WebhookPayload{Site: model.SiteE621, SiteID: "5", PerceptualHash: &hash}
	require.NoError(t, pub.PublishNewSubmission(context.Background(), payload))

	require.Len(t, producer.messages, 1)
	assert.Equal(t, "new_submission", producer.messages[0].Topic)

	var decoded model.WebhookPayload
	require.NoError(t, json.Unmarshal(producer.messages[0].Value, &decoded))
	assert.Equal(t, "5", decoded.SiteID)
	require.NotNil(t, decoded.PerceptualHash)
	assert.Equal(t, hash, *decoded.PerceptualHash)
}

func TestDispatchNewSubmission_OnlyMatchingSubscribersReceiveJobs(t *testing.T) {
	payload := model.WebhookPayload{Site: model.SiteFurAffinity, SiteID: "10", Artist: "artist-a"}
	subs := []model.WebhookSubscriber{
		{ID: 1, EndpointURL: "https://a.example/hook"},
		{ID: 2, EndpointURL: "https://b.example/hook", SiteFilter: model.SiteE621},
		{ID: 3, EndpointURL: "https://c.example/hook", ArtistFilter: "artist-a"},
		{ID: 4, EndpointURL: "https://d.example/hook", ArtistFilter: "someone-else"},
	}

	var published []SendWebhookJob
	err := DispatchNewSubmission(context.Background(), payload, subs, func(ctx context.Context, job SendWebhookJob) error {
		published = append(published, job)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, published, 2)
	endpoints := []string{published[0].EndpointURL, published[1].EndpointURL}
	assert.Contains(t, endpoints, "https://a.example/hook")
	assert.Contains(t, endpoints, "https://c.example/hook")
}

func TestDeliver_Returns2xxAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body model.WebhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body.SiteID)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	job := SendWebhookJob{Payload: model.WebhookPayload{Site: model.SiteWeasyl, SiteID: "42"}, EndpointURL: server.URL}
	assert.NoError(t, Deliver(context.Background(), server.Client(), job))
}

func TestDeliver_NonSuccessStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	job := SendWebhookJob{Payload: model.WebhookPayload{Site: model.SiteWeasyl, SiteID: "1"}, EndpointURL: server.URL}
	assert.Error(t, Deliver(context.Background(), server.Client(), job))
}

func TestSendWebhookJob_JobIDStableAcrossReencode(t *testing.T) {
	job := SendWebhookJob{Payload: model.WebhookPayload{Site: model.SiteE621, SiteID: "7"}, EndpointURL: "https://x.example/hook"}
	before := job.JobID()

	body, err := json.Marshal(job)
	require.NoError(t, err)
	var roundTripped SendWebhookJob
	require.NoError(t, json.Unmarshal(body, &roundTripped))

	assert.Equal(t, before, roundTripped.JobID())
}

func TestWebhookPayload_Base64FieldsOmittedWhenAbsent(t *testing.T) {
	payload := model.WebhookPayload{Site: model.SiteE621, SiteID: "1"}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "file_sha256")
	assert.NotContains(t, string(body), "hash")

	sum := []byte{1, 2, 3}
	encoded := base64.StdEncoding.EncodeToString(sum)
	payload.FileSHA256 = &encoded
	body, err = json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(body), "file_sha256")
}
