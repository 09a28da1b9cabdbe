// Package ingest implements the per-source crawl loop described in
// spec §4.7: determine the known frontier, ask the source for its
// latest id, compute candidate ids, and fetch/hash/persist each one
// with bounded concurrency and bounded retries.
package ingest

import (
	"context"
	"crypto/sha256"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog/log"

	"fuzzysearch/internal/model"
)

// FetchedSubmission is what a Source returns for one id: the metadata
// it could recover and the raw media bytes, if any. Media is nil when
// the source has no downloadable file for that id (text-only post,
// removed submission caught late, etc).
type FetchedSubmission struct {
	Submission model.Submission
	Media      []byte
}

// Source is the seam between the shared ingest loop and one upstream's
// API shape. The exact response format is opaque to the loop; each
// implementation decodes what it needs (gjson for the JSON APIs, regular
// expressions for FurAffinity's HTML pages).
type Source interface {
	// Site identifies which Site this source crawls.
	Site() model.Site

	// FetchLatest returns the highest id currently known to the
	// upstream.
	FetchLatest(ctx context.Context) (latestID int64, err error)

	// FetchSubmission retrieves one id. A nil Submission with a nil
	// error means the id does not exist upstream (deleted, never
	// used) and should be tombstoned without being treated as a
	// transient failure.
	FetchSubmission(ctx context.Context, id int64) (*FetchedSubmission, error)

	// CandidateIDs computes the ordered ids to process this tick,
	// given the highest id already stored (maxID, 0 if none) and the
	// freshly fetched latestID.
	CandidateIDs(ctx context.Context, maxID, latestID int64) ([]int64, error)
}

// Hasher computes a perceptual hash for downloaded media.
type Hasher interface {
	Hash(ctx context.Context, data []byte) (model.Hash, error)
}

// WebhookPublisher hands a freshly ingested submission to the webhook
// fan-out (spec §4.8). Ingest only ever publishes new_submission jobs;
// it never talks to subscriber endpoints directly.
type WebhookPublisher interface {
	PublishNewSubmission(ctx context.Context, payload model.WebhookPayload) error
}

// Store is the subset of the metadata store the ingest loop needs.
type Store interface {
	MaxSiteID(ctx context.Context, site model.Site) (int64, error)
	HasSubmission(ctx context.Context, site model.Site, siteID int64) (bool, error)
	UpsertSubmission(ctx context.Context, sub model.Submission) (int64, error)
}

const (
	maxAttempts    = 4
	fetchBaseDelay = time.Second
	fetchTimeout   = 10 * time.Second
)

// Worker drives one Source's crawl loop.
type Worker struct {
	source      Source
	store       Store
	hasher      Hasher
	webhooks    WebhookPublisher
	concurrency int
	pollEvery   time.Duration
	retryDelay  time.Duration
}

// New builds a Worker. concurrency bounds the number of ids fetched in
// parallel within a single tick; pollEvery is the sleep after every
// tick, whatever that tick found.
func New(source Source, store Store, hasher Hasher, webhooks WebhookPublisher, concurrency int, pollEvery time.Duration) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	if pollEvery <= 0 {
		pollEvery = time.Minute
	}
	return &Worker{source: source, store: store, hasher: hasher, webhooks: webhooks, concurrency: concurrency, pollEvery: pollEvery, retryDelay: fetchBaseDelay}
}

// Run loops until ctx is canceled, polling on every tick.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.Tick(ctx); err != nil {
			log.Error().Err(err).Str("site", string(w.source.Site())).Msg("ingest tick failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollEvery):
		}
	}
}

// Tick runs one poll cycle: resolve the frontier, compute candidates,
// and fan out fetch/hash/persist across w.concurrency goroutines.
func (w *Worker) Tick(ctx context.Context) error {
	site := w.source.Site()

	maxID, err := w.store.MaxSiteID(ctx, site)
	if err != nil {
		return err
	}

	latestID, err := w.source.FetchLatest(ctx)
	if err != nil {
		return err
	}

	ids, err := w.source.CandidateIDs(ctx, maxID, latestID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			w.processID(gctx, id)
			return nil
		})
	}
	return g.Wait()
}

// processID never returns an error: a fetch that still fails after its
// retries, or an id the upstream does not have, is logged and reflected
// as a tombstone row so the main loop makes monotonic progress
// regardless of upstream flakiness. A store error is only logged, and
// the id is left unrecorded.
func (w *Worker) processID(ctx context.Context, id int64) {
	site := w.source.Site()

	already, err := w.store.HasSubmission(ctx, site, id)
	if err != nil {
		log.Error().Err(err).Str("site", string(site)).Int64("id", id).Msg("check existing submission failed")
		return
	}
	if already {
		return
	}

	fetched, err := fetchWithRetry(ctx, w.source, id, w.retryDelay)
	if err != nil {
		log.Warn().Err(err).Str("site", string(site)).Int64("id", id).Msg("fetch failed permanently, tombstoning")
		w.tombstone(ctx, site, id)
		return
	}
	if fetched == nil {
		w.tombstone(ctx, site, id)
		return
	}

	sub := fetched.Submission
	if len(fetched.Media) > 0 {
		sum := sha256.Sum256(fetched.Media)
		sub.FileSHA256 = sum[:]

		hash, err := w.hasher.Hash(ctx, fetched.Media)
		if err != nil {
			sub.HashError = err.Error()
		} else {
			sub.PerceptualHash = &hash
		}
	}

	if _, err := w.store.UpsertSubmission(ctx, sub); err != nil {
		log.Error().Err(err).Str("site", string(site)).Int64("id", id).Msg("persist submission failed")
		return
	}

	if w.webhooks != nil {
		if err := w.webhooks.PublishNewSubmission(ctx, payloadFor(sub)); err != nil {
			log.Error().Err(err).Str("site", string(site)).Int64("id", id).Msg("publish webhook job failed")
		}
	}
}

func (w *Worker) tombstone(ctx context.Context, site model.Site, id int64) {
	_, err := w.store.UpsertSubmission(ctx, model.Submission{Site: site, SiteID: id, Deleted: true})
	if err != nil {
		log.Error().Err(err).Str("site", string(site)).Int64("id", id).Msg("tombstone insert failed")
	}
}

// fetchWithRetry retries a transient FetchSubmission failure up to 3
// times (maxAttempts attempts in all) with 1/2/3s linear back-off (spec
// §4.7); each attempt is bounded by fetchTimeout. A nil, nil result (id
// does not exist upstream) is returned immediately without retry.
func fetchWithRetry(ctx context.Context, source Source, id int64, baseDelay time.Duration) (*FetchedSubmission, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		fetched, err := source.FetchSubmission(fctx, id)
		cancel()
		if err == nil {
			return fetched, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * baseDelay):
		}
	}
	return nil, lastErr
}

func payloadFor(sub model.Submission) model.WebhookPayload {
	p := model.WebhookPayload{
		Site:    sub.Site,
		SiteID:  formatInt(sub.SiteID),
		FileURL: sub.URL,
	}
	if len(sub.Artists) > 0 {
		p.Artist = sub.Artists[0]
	}
	if len(sub.FileSHA256) > 0 {
		s := base64Encode(sub.FileSHA256)
		p.FileSHA256 = &s
	}
	if sub.PerceptualHash != nil {
		s := base64Encode(int64ToBigEndian(int64(*sub.PerceptualHash)))
		p.PerceptualHash = &s
	}
	return p
}
