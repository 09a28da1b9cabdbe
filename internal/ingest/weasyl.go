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

// WeasylSource implements Source against Weasyl's submissions API: a
// frontpage endpoint for discovering the latest id, and a per-id view
// endpoint for full metadata plus a media manifest.
type WeasylSource struct {
	APIKey    string
	UserAgent string
	Client    *http.Client
}

func NewWeasylSource(apiKey, userAgent string, client *http.Client) *WeasylSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &WeasylSource{APIKey: apiKey, UserAgent: userAgent, Client: client}
}

func (s *WeasylSource) Site() model.Site { return model.SiteWeasyl }

func (s *WeasylSource) FetchLatest(ctx context.Context) (int64, error) {
	body, err := s.get(ctx, "https://www.weasyl.com/api/submissions/frontpage")
	if err != nil {
		return 0, err
	}
	if errName := gjson.GetBytes(body, "error.name"); errName.Exists() {
		return 0, apierr.UpstreamUnavailable("weasyl", fmt.Errorf("%s", errName.String()))
	}
	var max int64
	gjson.ParseBytes(body).ForEach(func(_, v gjson.Result) bool {
		if id := v.Get("submitid").Int(); id > max {
			max = id
		}
		return true
	})
	if max == 0 {
		return 0, apierr.UpstreamUnavailable("weasyl", fmt.Errorf("frontpage returned no submissions"))
	}
	return max, nil
}

// CandidateIDs iterates the half-open range (maxID, latestID], same as
// e621's cursor but expressed as a plain id range since Weasyl's
// per-id view endpoint accepts arbitrary ids directly.
func (s *WeasylSource) CandidateIDs(ctx context.Context, maxID, latestID int64) ([]int64, error) {
	if maxID >= latestID {
		return nil, nil
	}
	ids := make([]int64, 0, latestID-maxID)
	for id := maxID + 1; id <= latestID; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *WeasylSource) FetchSubmission(ctx context.Context, id int64) (*FetchedSubmission, error) {
	body, err := s.get(ctx, fmt.Sprintf("https://www.weasyl.com/api/submissions/%d/view", id))
	if err != nil {
		return nil, err
	}
	if errName := gjson.GetBytes(body, "error.name"); errName.Exists() {
		if errName.String() == "submissionRecordMissing" {
			return nil, nil
		}
		return nil, apierr.UpstreamUnavailable("weasyl", fmt.Errorf("%s", errName.String()))
	}

	parsed := gjson.ParseBytes(body)
	if parsed.Get("subtype").String() == "literary" {
		return nil, nil
	}

	owner := parsed.Get("owner_login").String()
	var mediaURL string
	parsed.Get("media.submission").ForEach(func(_, v gjson.Result) bool {
		mediaURL = v.Get("url").String()
		return false
	})

	sub := model.Submission{
		Site:    model.SiteWeasyl,
		SiteID:  id,
		URL:     mediaURL,
		Artists: []string{owner},
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

func (s *WeasylSource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("X-Weasyl-API-Key", s.APIKey)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, apierr.UpstreamUnavailable("weasyl", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.UpstreamUnavailable("weasyl", err)
	}
	return body, nil
}
