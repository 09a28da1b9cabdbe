// Package model holds the data types shared by the hash index, the
// metadata store, the lookup service, ingest workers, and the webhook
// fan-out.
package model

import (
	"math/bits"
	"time"
)

// Hash is a 64-bit perceptual hash, stored as a signed integer to match
// the wire and database representation (Postgres bigint, JSON number).
type Hash int64

// Distance returns the Hamming distance between two hashes: the number
// of bit positions at which they differ. This is the similarity
// metric the BK-tree index and lookup ranking are built on.
func (h Hash) Distance(other Hash) uint8 {
	return uint8(bits.OnesCount64(uint64(h) ^ uint64(other)))
}

// Site is the closed set of upstream sources the ingest pipeline knows
// how to crawl.
type Site string

const (
	SiteFurAffinity Site = "FurAffinity"
	SiteE621        Site = "e621"
	SiteWeasyl      Site = "Weasyl"
	SiteTwitter     Site = "Twitter"
)

// Rating is the content rating self-reported by the upstream source.
// The zero value means unknown.
type Rating string

const (
	RatingGeneral Rating = "general"
	RatingMature  Rating = "mature"
	RatingAdult   Rating = "adult"
)

// SiteExtra is a tagged union of per-source metadata. At most one of its
// fields is populated, selected by the site the Submission belongs to;
// for sources with no extra data (Weasyl, Twitter) both are empty.
type SiteExtra struct {
	FurAffinityFileID *int64   `json:"file_id,omitempty"`
	E621Sources       []string `json:"sources,omitempty"`
}

// IsEmpty reports whether no extra data is carried.
func (e SiteExtra) IsEmpty() bool {
	return e.FurAffinityFileID == nil && len(e.E621Sources) == 0
}

// Submission represents one media item on one upstream source. The pair
// (Site, SiteID) is unique.
type Submission struct {
	ID             int64
	Site           Site
	SiteID         int64
	URL            string
	Filename       string
	Artists        []string
	Rating         Rating // "" means unknown
	PostedAt       *time.Time
	FileSHA256     []byte // nil if not yet fetched
	PerceptualHash *Hash  // nil if hashing has not succeeded
	HashError      string // diagnostic string, empty if no error
	SiteExtra      SiteExtra
	Deleted        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsTombstone reports whether the row exists only to mark a known-bad id
// so the ingest loop does not revisit it.
func (s Submission) IsTombstone() bool {
	return s.Deleted && s.PerceptualHash == nil
}

// RateLimitBucket names a per-API-key quota compartment.
type RateLimitBucket string

const (
	BucketName  RateLimitBucket = "name"
	BucketImage RateLimitBucket = "image"
	BucketHash  RateLimitBucket = "hash"
	BucketFile  RateLimitBucket = "file"
)

// ApiKey authenticates and rate-limits a client.
type ApiKey struct {
	ID         int64
	Secret     string
	Owner      string
	Name       string
	NameLimit  int
	ImageLimit int
	HashLimit  int
}

// Limit returns the configured per-minute limit for the given bucket, or
// -1 for a bucket it does not recognize. The "file" bucket has no limit
// of its own and is charged against ImageLimit.
func (k ApiKey) Limit(bucket RateLimitBucket) int {
	switch bucket {
	case BucketName:
		return k.NameLimit
	case BucketImage, BucketFile:
		return k.ImageLimit
	case BucketHash:
		return k.HashLimit
	default:
		return -1
	}
}

// WebhookSubscriber receives new_submission events, optionally filtered
// by site and/or artist.
type WebhookSubscriber struct {
	ID          int64
	EndpointURL string
	SiteFilter  Site   // empty means "any site"
	ArtistFilter string // empty means "any artist"
}

// Matches reports whether a submission passes this subscriber's filter.
func (w WebhookSubscriber) Matches(s Submission) bool {
	if w.SiteFilter != "" && w.SiteFilter != s.Site {
		return false
	}
	if w.ArtistFilter == "" {
		return true
	}
	for _, a := range s.Artists {
		if equalFold(a, w.ArtistFilter) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// WebhookPayload is the JSON body delivered to subscriber endpoints, and
// the payload carried inside the new_submission job.
type WebhookPayload struct {
	Site           Site    `json:"site"`
	SiteID         string  `json:"site_id"`
	Artist         string  `json:"artist"`
	FileURL        string  `json:"file_url"`
	FileSHA256     *string `json:"file_sha256,omitempty"`
	PerceptualHash *string `json:"hash,omitempty"`
}

// HashLookupResult is a single row of a lookup response: a submission
// annotated with which query hash it matched and at what distance.
type HashLookupResult struct {
	SiteName      Site      `json:"site_name"`
	SiteID        int64     `json:"site_id"`
	SiteIDStr     string    `json:"site_id_str"`
	SiteExtraData SiteExtra `json:"site_extra_data,omitempty"`
	URL           string    `json:"url"`
	Filename      string    `json:"filename"`
	Artists       []string  `json:"artists,omitempty"`
	Rating        Rating    `json:"rating,omitempty"`
	PostedAt      *time.Time `json:"posted_at,omitempty"`
	Hash          Hash      `json:"hash"`
	SearchedHash  Hash      `json:"searched_hash"`
	Distance      uint8     `json:"distance"`
}
