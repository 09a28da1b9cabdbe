package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"fuzzysearch/internal/apierr"
	"fuzzysearch/internal/model"
)

// E621Source implements Source against e621's posts.json listing API.
// Unlike FurAffinity, the API returns pages of posts directly, so the
// candidate strategy is a forward cursor over (maxID, latestID] rather
// than id probing.
type E621Source struct {
	Login     string
	APIKey    string
	UserAgent string
	Client    *http.Client
}

func NewE621Source(login, apiKey, userAgent string, client *http.Client) *E621Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &E621Source{Login: login, APIKey: apiKey, UserAgent: userAgent, Client: client}
}

func (s *E621Source) Site() model.Site { return model.SiteE621 }

func (s *E621Source) FetchLatest(ctx context.Context) (int64, error) {
	body, err := s.get(ctx, "https://e621.net/posts.json?limit=1")
	if err != nil {
		return 0, err
	}
	id := gjson.GetBytes(body, "posts.0.id")
	if !id.Exists() {
		return 0, apierr.UpstreamUnavailable("e621", fmt.Errorf("no posts in response"))
	}
	return id.Int(), nil
}

// CandidateIDs pages forward from maxID using e621's "page=aN" after-id
// cursor; one Source.CandidateIDs call returns just the first page's
// ids; the Worker revisits remaining ids on the next tick since each
// freshly stored id moves maxID forward.
func (s *E621Source) CandidateIDs(ctx context.Context, maxID, latestID int64) ([]int64, error) {
	if maxID >= latestID {
		return nil, nil
	}
	body, err := s.get(ctx, fmt.Sprintf("https://e621.net/posts.json?limit=320&page=a%d", maxID))
	if err != nil {
		return nil, err
	}
	var ids []int64
	gjson.GetBytes(body, "posts.#.id").ForEach(func(_, v gjson.Result) bool {
		ids = append(ids, v.Int())
		return true
	})
	return ids, nil
}

func (s *E621Source) FetchSubmission(ctx context.Context, id int64) (*FetchedSubmission, error) {
	body, err := s.get(ctx, fmt.Sprintf("https://e621.net/posts/%d.json", id))
	if err != nil {
		return nil, err
	}
	post := gjson.GetBytes(body, "post")
	if !post.Exists() {
		return nil, nil
	}

	url := post.Get("file.url").String()
	ext := post.Get("file.ext").String()

	var artists []string
	post.Get("tags.artist").ForEach(func(_, v gjson.Result) bool {
		artists = append(artists, v.String())
		return true
	})

	var sources []string
	post.Get("sources").ForEach(func(_, v gjson.Result) bool {
		sources = append(sources, v.String())
		return true
	})

	sub := model.Submission{
		Site:      model.SiteE621,
		SiteID:    id,
		URL:       url,
		Rating:    e621Rating(post.Get("rating").String()),
		Artists:   artists,
		SiteExtra: model.SiteExtra{E621Sources: sources},
	}

	if url == "" || (ext != "jpg" && ext != "png") {
		return &FetchedSubmission{Submission: sub}, nil
	}

	media, err := s.get(ctx, url)
	if err != nil {
		sub.HashError = err.Error()
		return &FetchedSubmission{Submission: sub}, nil
	}
	return &FetchedSubmission{Submission: sub, Media: media}, nil
}

func e621Rating(r string) model.Rating {
	switch strings.ToLower(r) {
	case "s":
		return model.RatingGeneral
	case "q":
		return model.RatingMature
	case "e":
		return model.RatingAdult
	default:
		return ""
	}
}

func (s *E621Source) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.UserAgent)
	req.SetBasicAuth(s.Login, s.APIKey)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, apierr.UpstreamUnavailable("e621", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.UpstreamUnavailable("e621", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}
