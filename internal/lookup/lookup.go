// Package lookup implements the user-facing Lookup Service (spec
// §4.6): lookup_by_hashes, lookup_by_image, and lookup_by_url, plus
// the quota enforcement shared by all three. It depends only on small
// interfaces (Store, Index, Hasher) so it can be tested against fakes
// instead of a live Postgres and a real BK-tree, following this
// codebase's convention of service structs accepting narrow
// dependency interfaces (internal/playground.Service and its
// registry/provider parameters).
package lookup

import (
	"context"
	"sort"

	"fuzzysearch/internal/apierr"
	"fuzzysearch/internal/model"
)

// Mode selects how lookup_by_image escalates its search radius.
type Mode string

const (
	ModeClose Mode = "close"
	ModeExact Mode = "exact"
	ModeForce Mode = "force"
)

// MaxHashesPerRequest and MaxDistance bound lookup_by_hashes per spec.
const (
	MaxHashesPerRequest = 10
	MaxDistance         = 10
	DefaultDistance     = 3
	closeExactRadius    = 0
	forceRadius         = 10
)

// Store is the metadata persistence this service reads from.
type Store interface {
	LookupSubmissionsByHashes(ctx context.Context, hashes []model.Hash) ([]model.Submission, error)
}

// Index is the in-memory hash index used for radius search.
type Index interface {
	Find(target model.Hash, radius uint8) []model.Hash
}

// Hasher computes a perceptual hash for uploaded or fetched image
// bytes.
type Hasher interface {
	Hash(ctx context.Context, data []byte) (model.Hash, error)
}

// Service implements the Lookup Service's three operations.
type Service struct {
	store  Store
	index  Index
	hasher Hasher
}

// New builds a Service from its dependencies.
func New(store Store, index Index, hasher Hasher) *Service {
	return &Service{store: store, index: index, hasher: hasher}
}

// LookupByHashes finds, for each of hashes, every submission within
// distance. Preconditions: 1 <= len(hashes) <= 10, 0 <= distance <= 10.
func (s *Service) LookupByHashes(ctx context.Context, hashes []model.Hash, distance uint8) ([]model.HashLookupResult, error) {
	if len(hashes) == 0 || len(hashes) > MaxHashesPerRequest {
		return nil, apierr.BadRequest("hashes must contain between 1 and %d entries", MaxHashesPerRequest)
	}
	if distance > MaxDistance {
		return nil, apierr.BadRequest("distance must be between 0 and %d", MaxDistance)
	}

	// For each searched hash, remember which found hashes matched it at
	// what distance, so the final join can re-annotate each submission
	// with the query it satisfied rather than recomputing distances
	// against an arbitrary pick.
	type match struct {
		searched model.Hash
		distance uint8
	}
	matchesByFound := make(map[model.Hash]match)
	var candidates []model.Hash
	for _, h := range hashes {
		for _, found := range s.index.Find(h, distance) {
			d := h.Distance(found)
			if existing, ok := matchesByFound[found]; !ok || d < existing.distance {
				matchesByFound[found] = match{searched: h, distance: d}
				candidates = append(candidates, found)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	subs, err := s.store.LookupSubmissionsByHashes(ctx, dedupeHashes(candidates))
	if err != nil {
		return nil, err
	}

	out := make([]model.HashLookupResult, 0, len(subs))
	for _, sub := range subs {
		if sub.PerceptualHash == nil {
			continue
		}
		m, ok := matchesByFound[*sub.PerceptualHash]
		if !ok {
			continue
		}
		out = append(out, submissionToResult(sub, m.searched, m.distance))
	}
	return out, nil
}

// LookupByImage computes the perceptual hash of data and searches at
// a radius determined by mode, returning the computed hash alongside
// the matches sorted by ascending distance.
func (s *Service) LookupByImage(ctx context.Context, data []byte, mode Mode) (model.Hash, []model.HashLookupResult, error) {
	h, err := s.hasher.Hash(ctx, data)
	if err != nil {
		return 0, nil, err
	}

	var results []model.HashLookupResult
	switch mode {
	case ModeExact:
		results, err = s.LookupByHashes(ctx, []model.Hash{h}, closeExactRadius)
	case ModeForce:
		results, err = s.LookupByHashes(ctx, []model.Hash{h}, forceRadius)
	case ModeClose, "":
		results, err = s.LookupByHashes(ctx, []model.Hash{h}, closeExactRadius)
		if err == nil && len(results) == 0 {
			results, err = s.LookupByHashes(ctx, []model.Hash{h}, forceRadius)
		}
	default:
		return 0, nil, apierr.BadRequest("unknown lookup mode %q", mode)
	}
	if err != nil {
		return 0, nil, err
	}

	sortByDistance(results)
	return h, results, nil
}

// LookupByImageAtDistance computes the perceptual hash of data and
// searches directly at the given radius, used by lookup_by_url, which
// takes an explicit distance rather than a Close/Exact/Force mode.
func (s *Service) LookupByImageAtDistance(ctx context.Context, data []byte, distance uint8) (model.Hash, []model.HashLookupResult, error) {
	h, err := s.hasher.Hash(ctx, data)
	if err != nil {
		return 0, nil, err
	}
	results, err := s.LookupByHashes(ctx, []model.Hash{h}, distance)
	if err != nil {
		return 0, nil, err
	}
	sortByDistance(results)
	return h, results, nil
}

func sortByDistance(results []model.HashLookupResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
}

func dedupeHashes(hashes []model.Hash) []model.Hash {
	seen := make(map[model.Hash]struct{}, len(hashes))
	out := make([]model.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func submissionToResult(sub model.Submission, searched model.Hash, distance uint8) model.HashLookupResult {
	return model.HashLookupResult{
		SiteName:      sub.Site,
		SiteID:        sub.SiteID,
		SiteIDStr:     formatSiteID(sub.SiteID),
		SiteExtraData: sub.SiteExtra,
		URL:           sub.URL,
		Filename:      sub.Filename,
		Artists:       sub.Artists,
		Rating:        sub.Rating,
		PostedAt:      sub.PostedAt,
		Hash:          *sub.PerceptualHash,
		SearchedHash:  searched,
		Distance:      distance,
	}
}
