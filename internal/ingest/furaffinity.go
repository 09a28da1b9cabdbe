package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"fuzzysearch/internal/apierr"
	"fuzzysearch/internal/model"
)

// FurAffinitySource implements Source against FurAffinity's
// cookie-authenticated classic site: there is no public submission
// listing API, so the loop probes the id space directly (spec §4.7)
// rather than following a frontpage cursor.
type FurAffinitySource struct {
	CookieA   string
	CookieB   string
	UserAgent string
	Client    *http.Client
	Store     furAffinityMissingIDs
}

// furAffinityMissingIDs is the one metadata-store query this source
// needs beyond the shared Worker contract: the full set-difference
// probing strategy (generate_series minus known ids) only makes sense
// run against the database, not recomputed per tick in memory.
type furAffinityMissingIDs interface {
	MissingSiteIDs(ctx context.Context, site model.Site, latest int64) ([]int64, error)
}

var faSubmissionIDRe = regexp.MustCompile(`/view/(\d+)/`)
var faImageURLRe = regexp.MustCompile(`(//d\.facdn\.net/art/[^"']+)`)
var faFilenameRe = regexp.MustCompile(`/art/[^/]+/[^/]+/(\d+)\.[^/"']+/([^/"']+)`)
var faArtistRe = regexp.MustCompile(`<a[^>]+href="/user/[^"]+"[^>]*>\s*([^<]+)\s*</a>`)
var faRegisteredOnlineRe = regexp.MustCompile(`([\d,]+)\s+registered`)

func NewFurAffinitySource(cookieA, cookieB, userAgent string, client *http.Client, store furAffinityMissingIDs) *FurAffinitySource {
	if client == nil {
		client = http.DefaultClient
	}
	return &FurAffinitySource{CookieA: cookieA, CookieB: cookieB, UserAgent: userAgent, Client: client, Store: store}
}

func (s *FurAffinitySource) Site() model.Site { return model.SiteFurAffinity }

// FetchLatest scrapes the "latest submissions" browse page for the
// highest /view/<id>/ link present.
func (s *FurAffinitySource) FetchLatest(ctx context.Context) (int64, error) {
	body, err := s.get(ctx, "https://www.furaffinity.net/msg/submissions/")
	if err != nil {
		return 0, err
	}
	var max int64
	for _, m := range faSubmissionIDRe.FindAllStringSubmatch(string(body), -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil && id > max {
			max = id
		}
	}
	if max == 0 {
		return 0, apierr.UpstreamUnavailable("furaffinity", fmt.Errorf("no submission ids found on listing page"))
	}
	return max, nil
}

// CandidateIDs delegates to the set-difference query, processing
// oldest-first so a long backlog drains in submission order.
func (s *FurAffinitySource) CandidateIDs(ctx context.Context, maxID, latestID int64) ([]int64, error) {
	return s.Store.MissingSiteIDs(ctx, model.SiteFurAffinity, latestID)
}

func (s *FurAffinitySource) FetchSubmission(ctx context.Context, id int64) (*FetchedSubmission, error) {
	url := fmt.Sprintf("https://www.furaffinity.net/view/%d/", id)
	body, err := s.get(ctx, url)
	if err != nil {
		return nil, err
	}
	page := string(body)

	if isFurAffinityNotFound(page) {
		return nil, nil
	}

	imgMatch := faImageURLRe.FindStringSubmatch(page)
	if imgMatch == nil {
		return nil, apierr.BadRequest(fmt.Sprintf("furaffinity: could not locate image URL for %d", id))
	}
	imageURL := "https:" + imgMatch[1]

	var fileID *int64
	var filename string
	if fm := faFilenameRe.FindStringSubmatch(imageURL); fm != nil {
		if v, err := strconv.ParseInt(fm[1], 10, 64); err == nil {
			fileID = &v
		}
		filename = fm[2]
	}

	artist := ""
	if am := faArtistRe.FindStringSubmatch(page); am != nil {
		artist = am[1]
	}

	sub := model.Submission{
		Site:      model.SiteFurAffinity,
		SiteID:    id,
		URL:       imageURL,
		Filename:  filename,
		Artists:   artistList(artist),
		SiteExtra: model.SiteExtra{FurAffinityFileID: fileID},
	}

	media, err := s.get(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	return &FetchedSubmission{Submission: sub, Media: media}, nil
}

// RegisteredOnline scrapes the current count of registered users
// browsing the site from the online-users page, the signal the
// refresh worker throttles against (spec §4.9). Satisfies
// refresh.UpstreamHealthChecker structurally: this package does not
// import refresh (refresh imports ingest, not the reverse).
func (s *FurAffinitySource) RegisteredOnline(ctx context.Context) (int, error) {
	body, err := s.get(ctx, "https://www.furaffinity.net/online/")
	if err != nil {
		return 0, err
	}
	m := faRegisteredOnlineRe.FindStringSubmatch(string(body))
	if m == nil {
		return 0, apierr.UpstreamUnavailable("furaffinity", fmt.Errorf("could not locate registered-online count"))
	}
	n, err := strconv.Atoi(regexp.MustCompile(`,`).ReplaceAllString(m[1], ""))
	if err != nil {
		return 0, apierr.UpstreamUnavailable("furaffinity", err)
	}
	return n, nil
}

func artistList(name string) []string {
	if name == "" {
		return nil
	}
	return []string{name}
}

func isFurAffinityNotFound(page string) bool {
	return regexp.MustCompile(`(?i)(submission|page).{0,40}not exist|system.{0,10}error`).MatchString(page)
}

func (s *FurAffinitySource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Cookie", fmt.Sprintf("a=%s; b=%s", s.CookieA, s.CookieB))

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, apierr.UpstreamUnavailable("furaffinity", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.UpstreamUnavailable("furaffinity", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}
