// Package refresh implements the Refresh Worker (spec §4.9): jobs that
// force a re-fetch of one already-known FurAffinity submission, or
// re-fetch a batch of submissions whose hash never landed, throttled by
// how busy the upstream currently is.
package refresh

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/rs/zerolog/log"

	"fuzzysearch/internal/ingest"
	"fuzzysearch/internal/model"
)

const staleWindow = 30 * 24 * time.Hour

// fetchTimeout bounds one upstream re-fetch.
const fetchTimeout = 10 * time.Second

// Store is the subset of the metadata store the refresh worker needs.
type Store interface {
	SubmissionBySiteID(ctx context.Context, site model.Site, siteID int64) (model.Submission, error)
	UpsertSubmission(ctx context.Context, sub model.Submission) (int64, error)
	SiteIDsMissingHash(ctx context.Context, site model.Site, limit int) ([]int64, error)
}

// Fetcher re-fetches one already-known FurAffinity submission.
// *ingest.FurAffinitySource satisfies this directly, so production
// code shares the one scraper rather than building a second client.
type Fetcher interface {
	FetchSubmission(ctx context.Context, id int64) (*ingest.FetchedSubmission, error)
}

// Hasher computes a perceptual hash for downloaded media.
type Hasher interface {
	Hash(ctx context.Context, data []byte) (model.Hash, error)
}

// Gauge reports the current upstream registered-user count, used to
// throttle the queue while the upstream is under heavy load.
type Gauge interface {
	RegisteredOnline(ctx context.Context) (int, error)
}

// Worker drains furaffinity_load and furaffinity_calculate_missing
// jobs against the FurAffinity source.
type Worker struct {
	store     Store
	fetcher   Fetcher
	hasher    Hasher
	gauge     Gauge
	threshold int
}

// New builds a Worker. threshold is the maximum tolerable upstream
// registered-user count before refresh pauses; 0 selects the spec's
// default of 10000.
func New(store Store, fetcher Fetcher, hasher Hasher, gauge Gauge, threshold int) *Worker {
	if threshold <= 0 {
		threshold = 10000
	}
	return &Worker{store: store, fetcher: fetcher, hasher: hasher, gauge: gauge, threshold: threshold}
}

// ErrThrottled is returned by HandleLoad when the upstream is too busy
// to refresh against right now; callers should leave the job
// uncommitted so it redelivers later rather than treating this as a
// permanent failure. HandleCalculateMissing does not return it: it
// stops its batch at the first throttle and returns nil.
type ErrThrottled struct {
	Online    int
	Threshold int
}

func (e *ErrThrottled) Error() string {
	return "refresh throttled: upstream registered online exceeds threshold"
}

// Throttled reports whether the upstream is currently too busy to
// refresh against, per the gauge's most recent reading.
func (w *Worker) Throttled(ctx context.Context) (bool, error) {
	online, err := w.gauge.RegisteredOnline(ctx)
	if err != nil {
		return false, err
	}
	return online > w.threshold, nil
}

// HandleLoad processes a furaffinity_load{id} job: re-fetch id and
// persist it, unless it was refreshed within the last 30 days or the
// upstream is currently throttled.
func (w *Worker) HandleLoad(ctx context.Context, id int64) error {
	throttled, err := w.Throttled(ctx)
	if err != nil {
		return err
	}
	if throttled {
		return &ErrThrottled{}
	}

	existing, err := w.store.SubmissionBySiteID(ctx, model.SiteFurAffinity, id)
	if err == nil && !existing.UpdatedAt.IsZero() && time.Since(existing.UpdatedAt) < staleWindow {
		log.Debug().Int64("id", id).Msg("refresh skipped, recently updated")
		return nil
	}

	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	fetched, err := w.fetcher.FetchSubmission(fctx, id)
	cancel()
	if err != nil {
		return err
	}
	if fetched == nil {
		_, err := w.store.UpsertSubmission(ctx, model.Submission{Site: model.SiteFurAffinity, SiteID: id, Deleted: true})
		return err
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

	_, err = w.store.UpsertSubmission(ctx, sub)
	return err
}

// HandleCalculateMissing processes a furaffinity_calculate_missing{batch_size}
// job: find up to batchSize submissions with no perceptual hash yet and
// refresh each one through HandleLoad, stopping at the first throttle.
func (w *Worker) HandleCalculateMissing(ctx context.Context, batchSize int) error {
	ids, err := w.store.SiteIDsMissingHash(ctx, model.SiteFurAffinity, batchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.HandleLoad(ctx, id); err != nil {
			if _, ok := err.(*ErrThrottled); ok {
				log.Info().Int64("id", id).Msg("calculate_missing batch paused, upstream throttled")
				return nil
			}
			log.Error().Err(err).Int64("id", id).Msg("calculate_missing refresh failed")
		}
	}
	return nil
}
