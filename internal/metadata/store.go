// Package metadata is the durable store behind the spec's Metadata
// Store component (§4.3): submissions, API keys, per-minute rate
// limit counters, and webhook subscriptions, all backed by Postgres
// via pgx. The query and schema-migration style is carried over from
// this codebase's auth store (internal/auth/store.go): a pgxpool.Pool,
// idempotent CREATE TABLE IF NOT EXISTS statements run at startup, and
// ON CONFLICT ... RETURNING upserts rather than a separate ORM layer.
package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fuzzysearch/internal/model"
)

// ErrNotFound is returned when a lookup by key finds no row.
var ErrNotFound = errors.New("metadata: not found")

// Store provides submission, API key, rate limit, and webhook
// subscriber persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InitSchema creates the tables this store needs if they do not
// already exist. It is safe to call on every process start.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS submissions (
  id BIGSERIAL PRIMARY KEY,
  site TEXT NOT NULL,
  site_id BIGINT NOT NULL,
  url TEXT NOT NULL DEFAULT '',
  filename TEXT NOT NULL DEFAULT '',
  artists TEXT[] NOT NULL DEFAULT '{}',
  rating TEXT NOT NULL DEFAULT '',
  posted_at TIMESTAMPTZ,
  file_sha256 BYTEA,
  perceptual_hash BIGINT,
  hash_error TEXT NOT NULL DEFAULT '',
  site_extra JSONB NOT NULL DEFAULT '{}',
  deleted BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(site, site_id)
);
CREATE INDEX IF NOT EXISTS submissions_perceptual_hash_idx ON submissions(perceptual_hash) WHERE perceptual_hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS submissions_file_sha256_idx ON submissions(file_sha256) WHERE file_sha256 IS NOT NULL;

CREATE TABLE IF NOT EXISTS api_keys (
  id BIGSERIAL PRIMARY KEY,
  secret TEXT UNIQUE NOT NULL,
  owner TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  name_limit INT NOT NULL DEFAULT 10,
  image_limit INT NOT NULL DEFAULT 10,
  hash_limit INT NOT NULL DEFAULT 60,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rate_limit_usage (
  api_key_id BIGINT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
  bucket TEXT NOT NULL,
  window_start TIMESTAMPTZ NOT NULL,
  count INT NOT NULL DEFAULT 0,
  PRIMARY KEY(api_key_id, bucket, window_start)
);

CREATE TABLE IF NOT EXISTS webhook_subscribers (
  id BIGSERIAL PRIMARY KEY,
  endpoint_url TEXT NOT NULL,
  site_filter TEXT NOT NULL DEFAULT '',
  artist_filter TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

// LookupApiKey returns the key identified by secret, or ErrNotFound.
func (s *Store) LookupApiKey(ctx context.Context, secret string) (model.ApiKey, error) {
	var k model.ApiKey
	err := s.pool.QueryRow(ctx, `
SELECT id, secret, owner, name, name_limit, image_limit, hash_limit
FROM api_keys WHERE secret=$1`, secret).
		Scan(&k.ID, &k.Secret, &k.Owner, &k.Name, &k.NameLimit, &k.ImageLimit, &k.HashLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ApiKey{}, ErrNotFound
	}
	if err != nil {
		return model.ApiKey{}, err
	}
	return k, nil
}

// IncrementRateLimit atomically increments the counter for keyID's
// bucket in the current minute window and reports whether the call
// that triggered it is within limit. Per spec's Open Questions
// decision, overage is not refunded: a request that pushes the
// counter past limit is rejected, but the counter still reflects it,
// so a client retrying every request in a burst does not get a free
// pass once the window rolls over only to immediately exceed it again
// with partial credit.
func (s *Store) IncrementRateLimit(ctx context.Context, keyID int64, bucket model.RateLimitBucket, limit, incr int) (allowed bool, count int, retryAfter int, err error) {
	if limit < 0 {
		return true, 0, 0, nil
	}
	window := time.Now().UTC().Truncate(time.Minute)
	err = s.pool.QueryRow(ctx, `
INSERT INTO rate_limit_usage(api_key_id, bucket, window_start, count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (api_key_id, bucket, window_start) DO UPDATE SET count = rate_limit_usage.count + $4
RETURNING count
`, keyID, string(bucket), window, incr).Scan(&count)
	if err != nil {
		return false, 0, 0, err
	}
	if count > limit {
		retryAfter = int(window.Add(time.Minute).Sub(time.Now().UTC()).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, count, retryAfter, nil
	}
	return true, count, 0, nil
}

// UpsertSubmission inserts or updates a submission keyed by
// (site, site_id), returning the row's database id. Per spec §4.3 it
// notifies the "hash_added" channel in the same statement whenever the
// written row carries a non-nil perceptual hash, so the index
// maintainer's LISTEN connection picks up the new hash without a
// second round trip or a race against a separate notify call.
func (s *Store) UpsertSubmission(ctx context.Context, sub model.Submission) (int64, error) {
	var phash *int64
	if sub.PerceptualHash != nil {
		v := int64(*sub.PerceptualHash)
		phash = &v
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
WITH upsert AS (
  INSERT INTO submissions(site, site_id, url, filename, artists, rating, posted_at, file_sha256, perceptual_hash, hash_error, site_extra, deleted)
  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
  ON CONFLICT (site, site_id) DO UPDATE SET
    url=EXCLUDED.url,
    filename=EXCLUDED.filename,
    artists=EXCLUDED.artists,
    rating=EXCLUDED.rating,
    posted_at=EXCLUDED.posted_at,
    file_sha256=COALESCE(EXCLUDED.file_sha256, submissions.file_sha256),
    perceptual_hash=COALESCE(EXCLUDED.perceptual_hash, submissions.perceptual_hash),
    hash_error=EXCLUDED.hash_error,
    site_extra=EXCLUDED.site_extra,
    deleted=EXCLUDED.deleted,
    updated_at=now()
  RETURNING id, perceptual_hash
),
notified AS (
  SELECT pg_notify('hash_added', perceptual_hash::text) AS sent
  FROM upsert WHERE perceptual_hash IS NOT NULL
)
SELECT upsert.id FROM upsert LEFT JOIN notified ON true
`, string(sub.Site), sub.SiteID, sub.URL, sub.Filename, sub.Artists, string(sub.Rating), sub.PostedAt, sub.FileSHA256, phash, sub.HashError, sub.SiteExtra, sub.Deleted).Scan(&id)
	return id, err
}

// LookupSubmissionsByHashes returns every non-deleted submission whose
// perceptual hash is exactly one of hashes. lookup_by_hashes calls it
// after the BK-tree radius search, with the hashes that search found.
func (s *Store) LookupSubmissionsByHashes(ctx context.Context, hashes []model.Hash) ([]model.Submission, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	raw := make([]int64, len(hashes))
	for i, h := range hashes {
		raw[i] = int64(h)
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, site, site_id, url, filename, artists, rating, posted_at, file_sha256, perceptual_hash, hash_error, site_extra, deleted, created_at, updated_at
FROM submissions
WHERE perceptual_hash = ANY($1) AND deleted = false
`, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// SubmissionsByPerceptualHash returns every non-deleted submission whose
// perceptual hash is exactly h.
func (s *Store) SubmissionsByPerceptualHash(ctx context.Context, h model.Hash) ([]model.Submission, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, site, site_id, url, filename, artists, rating, posted_at, file_sha256, perceptual_hash, hash_error, site_extra, deleted, created_at, updated_at
FROM submissions
WHERE perceptual_hash = $1 AND deleted = false
`, int64(h))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// SubmissionsByFurAffinityFileID returns FurAffinity submissions whose
// site_extra file_id matches fileID, for the /furaffinity/file_id
// endpoint.
func (s *Store) SubmissionsByFurAffinityFileID(ctx context.Context, fileID int64) ([]model.Submission, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, site, site_id, url, filename, artists, rating, posted_at, file_sha256, perceptual_hash, hash_error, site_extra, deleted, created_at, updated_at
FROM submissions
WHERE site = $1 AND (site_extra->>'file_id')::bigint = $2 AND deleted = false
`, string(model.SiteFurAffinity), fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// KnownHandle reports whether any stored submission on site credits
// handle as an artist, for the /known/:service endpoint.
func (s *Store) KnownHandle(ctx context.Context, site model.Site, handle string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM submissions
  WHERE site = $1 AND deleted = false AND EXISTS (
    SELECT 1 FROM unnest(artists) a WHERE lower(a) = lower($2)
  )
)
`, string(site), handle).Scan(&exists)
	return exists, err
}

// MaxSiteID returns the highest site_id stored for site, or 0 if none
// exist yet, used by ingest workers to seed their frontier.
func (s *Store) MaxSiteID(ctx context.Context, site model.Site) (int64, error) {
	var max *int64
	err := s.pool.QueryRow(ctx, `SELECT max(site_id) FROM submissions WHERE site = $1`, string(site)).Scan(&max)
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

// MissingSiteIDs returns the ids in [1, latest] not yet present for
// site, ascending, for sources (FurAffinity) whose API requires
// probing by id rather than iterating a frontpage listing.
func (s *Store) MissingSiteIDs(ctx context.Context, site model.Site, latest int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
SELECT sid FROM generate_series(1, $2::bigint) sid
WHERE sid NOT IN (SELECT site_id FROM submissions WHERE site = $1)
ORDER BY sid
`, string(site), latest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// HasSubmission reports whether site/siteID is already stored
// (including tombstones), so ingest workers skip ids they've already
// resolved.
func (s *Store) HasSubmission(ctx context.Context, site model.Site, siteID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM submissions WHERE site = $1 AND site_id = $2)`,
		string(site), siteID).Scan(&exists)
	return exists, err
}

// SubmissionBySiteID returns the stored submission for site/siteID, or
// ErrNotFound, used by the refresh worker to decide whether a
// furaffinity_load job's target is stale enough to re-fetch.
func (s *Store) SubmissionBySiteID(ctx context.Context, site model.Site, siteID int64) (model.Submission, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, site, site_id, url, filename, artists, rating, posted_at, file_sha256, perceptual_hash, hash_error, site_extra, deleted, created_at, updated_at
FROM submissions
WHERE site = $1 AND site_id = $2
`, string(site), siteID)
	if err != nil {
		return model.Submission{}, err
	}
	defer rows.Close()
	subs, err := scanSubmissions(rows)
	if err != nil {
		return model.Submission{}, err
	}
	if len(subs) == 0 {
		return model.Submission{}, ErrNotFound
	}
	return subs[0], nil
}

// SiteIDsMissingHash returns up to limit site ids on site whose
// perceptual hash is still unset (download never succeeded or hashing
// failed), oldest-updated first, for the refresh worker's
// furaffinity_calculate_missing batch job.
func (s *Store) SiteIDsMissingHash(ctx context.Context, site model.Site, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
SELECT site_id FROM submissions
WHERE site = $1 AND perceptual_hash IS NULL AND deleted = false
ORDER BY updated_at ASC
LIMIT $2
`, string(site), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AllHashes streams every non-null perceptual hash currently stored,
// for the index maintainer's full rebuild at startup and after each
// lost LISTEN connection (spec §4.4).
func (s *Store) AllHashes(ctx context.Context) ([]model.Hash, error) {
	rows, err := s.pool.Query(ctx, `SELECT perceptual_hash FROM submissions WHERE perceptual_hash IS NOT NULL AND deleted = false`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Hash
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, model.Hash(h))
	}
	return out, rows.Err()
}

// ListWebhookSubscribers returns all registered webhook subscribers.
func (s *Store) ListWebhookSubscribers(ctx context.Context) ([]model.WebhookSubscriber, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, endpoint_url, site_filter, artist_filter FROM webhook_subscribers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WebhookSubscriber
	for rows.Next() {
		var w model.WebhookSubscriber
		var site string
		if err := rows.Scan(&w.ID, &w.EndpointURL, &site, &w.ArtistFilter); err != nil {
			return nil, err
		}
		w.SiteFilter = model.Site(site)
		out = append(out, w)
	}
	return out, rows.Err()
}

// Notify publishes payload on a Postgres NOTIFY channel, which the
// index maintainer's dedicated LISTEN connection (spec §4.4) picks up
// to learn about a new hash without polling.
func (s *Store) Notify(ctx context.Context, channel, payload string) error {
	_, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, payload)
	return err
}

func scanSubmissions(rows pgx.Rows) ([]model.Submission, error) {
	out := make([]model.Submission, 0, 16)
	for rows.Next() {
		var sub model.Submission
		var site, rating string
		var phash *int64
		if err := rows.Scan(&sub.ID, &site, &sub.SiteID, &sub.URL, &sub.Filename, &sub.Artists, &rating,
			&sub.PostedAt, &sub.FileSHA256, &phash, &sub.HashError, &sub.SiteExtra, &sub.Deleted,
			&sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		sub.Site = model.Site(site)
		sub.Rating = model.Rating(rating)
		if phash != nil {
			h := model.Hash(*phash)
			sub.PerceptualHash = &h
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
