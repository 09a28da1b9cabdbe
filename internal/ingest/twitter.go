package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"fuzzysearch/internal/apierr"
	"fuzzysearch/internal/model"
)

// TwitterSource implements Source against the Twitter API v2, tracking
// a fixed set of handles (spec's data model treats Twitter as having
// no site-specific extra fields, unlike FurAffinity/e621). Candidate
// ids are tweet ids with at least one media attachment, discovered via
// each handle's user-tweets timeline.
type TwitterSource struct {
	BearerToken string
	Handles     []string
	Client      *http.Client
}

func NewTwitterSource(bearerToken string, handles []string, client *http.Client) *TwitterSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &TwitterSource{BearerToken: bearerToken, Handles: handles, Client: client}
}

func (s *TwitterSource) Site() model.Site { return model.SiteTwitter }

// FetchLatest returns the highest tweet id currently visible across
// all tracked handles' timelines.
func (s *TwitterSource) FetchLatest(ctx context.Context) (int64, error) {
	var max int64
	for _, handle := range s.Handles {
		ids, err := s.timelineIDs(ctx, handle, 0)
		if err != nil {
			return 0, err
		}
		for _, id := range ids {
			if id > max {
				max = id
			}
		}
	}
	return max, nil
}

// CandidateIDs re-walks each handle's timeline and keeps ids above
// maxID, since Twitter's timeline cursor is per-handle rather than a
// single global sequence.
func (s *TwitterSource) CandidateIDs(ctx context.Context, maxID, latestID int64) ([]int64, error) {
	var ids []int64
	for _, handle := range s.Handles {
		found, err := s.timelineIDs(ctx, handle, maxID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, found...)
	}
	return ids, nil
}

func (s *TwitterSource) timelineIDs(ctx context.Context, handle string, sinceID int64) ([]int64, error) {
	userBody, err := s.get(ctx, fmt.Sprintf("https://api.twitter.com/2/users/by/username/%s", handle))
	if err != nil {
		return nil, err
	}
	userID := gjson.GetBytes(userBody, "data.id").String()
	if userID == "" {
		return nil, apierr.UpstreamUnavailable("twitter", fmt.Errorf("unknown handle %q", handle))
	}

	url := fmt.Sprintf("https://api.twitter.com/2/users/%s/tweets?expansions=attachments.media_keys&media.fields=url&max_results=100", userID)
	if sinceID > 0 {
		url += fmt.Sprintf("&since_id=%d", sinceID)
	}
	body, err := s.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var ids []int64
	gjson.GetBytes(body, "data").ForEach(func(_, tweet gjson.Result) bool {
		if tweet.Get("attachments.media_keys.0").Exists() {
			ids = append(ids, tweet.Get("id").Int())
		}
		return true
	})
	return ids, nil
}

func (s *TwitterSource) FetchSubmission(ctx context.Context, id int64) (*FetchedSubmission, error) {
	url := fmt.Sprintf("https://api.twitter.com/2/tweets/%d?expansions=attachments.media_keys,author_id&media.fields=url&user.fields=username", id)
	body, err := s.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(body, "data").Exists() {
		return nil, nil
	}

	author := gjson.GetBytes(body, "includes.users.0.username").String()
	mediaURL := gjson.GetBytes(body, "includes.media.0.url").String()

	sub := model.Submission{
		Site:    model.SiteTwitter,
		SiteID:  id,
		URL:     mediaURL,
		Artists: artistList(author),
	}
	if mediaURL == "" {
		return &FetchedSubmission{Submission: sub}, nil
	}

	media, err := s.get(ctx, mediaURL)
	if err != nil {
		sub.HashError = err.Error()
		return &FetchedSubmission{Submission: sub}, nil
	}
	return &FetchedSubmission{Submission: sub, Media: media}, nil
}

func (s *TwitterSource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.BearerToken)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, apierr.UpstreamUnavailable("twitter", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.UpstreamUnavailable("twitter", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}
