// Package indexmaintainer runs the Building/Live/Reconnecting state
// machine from spec §4.4: it keeps an in-process hashindex.Tree in
// sync with the metadata store by rebuilding from scratch at startup and
// after each lost LISTEN connection and, between rebuilds, applying
// hash_added notifications as they
// arrive. A dedicated *pgx.Conn (not drawn from the pool) holds the
// LISTEN subscription, since pgxpool connections handed out for
// Exec/Query are reused across callers and are not safe to dedicate to
// a long-lived LISTEN.
package indexmaintainer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"fuzzysearch/internal/hashindex"
	"fuzzysearch/internal/model"
)

// NotifyChannel is the Postgres NOTIFY channel carrying newly hashed
// submissions.
const NotifyChannel = "hash_added"

// ReconnectBackoff is the fixed delay before a failed Building/Live
// cycle is retried.
const ReconnectBackoff = 10 * time.Second

// HashSource supplies the full set of currently known hashes for a
// Building-phase rebuild.
type HashSource interface {
	AllHashes(ctx context.Context) ([]model.Hash, error)
}

// Maintainer owns one hashindex.Tree and keeps it current.
type Maintainer struct {
	connString string
	store      HashSource
	tree       *hashindex.Tree
	backoff    time.Duration
}

// New returns a Maintainer that rebuilds tree from store and listens
// for updates over a connection opened with connString.
func New(connString string, store HashSource, tree *hashindex.Tree) *Maintainer {
	return &Maintainer{connString: connString, store: store, tree: tree, backoff: ReconnectBackoff}
}

// Run blocks, cycling Building -> Live -> Reconnecting -> Building
// until ctx is canceled. The tree continues serving reads from readers
// throughout; only Rebuild and Insert calls ever touch it, both of
// which take the tree's own write lock.
func (m *Maintainer) Run(ctx context.Context) error {
	for {
		if err := m.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("index maintainer cycle failed, reconnecting")
			select {
			case <-time.After(m.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// cycle runs one Building phase followed by a Live phase, returning
// when the Live phase's subscription is lost (triggering a return to
// Building on the next call) or ctx is canceled.
func (m *Maintainer) cycle(ctx context.Context) error {
	hashes, err := m.store.AllHashes(ctx)
	if err != nil {
		return err
	}
	m.tree.Rebuild(hashes)
	log.Info().Int("count", len(hashes)).Msg("index maintainer rebuilt tree")

	conn, err := pgx.Connect(ctx, m.connString)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return err
	}
	log.Info().Msg("index maintainer listening for hash_added")

	for {
		notif, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		m.handleNotification(notif.Payload)
	}
}

// handleNotification applies one hash_added payload to the tree. A
// malformed payload is logged and skipped; it never terminates the
// loop, since one bad notification should not take down the whole
// index maintainer.
func (m *Maintainer) handleNotification(payload string) {
	raw, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil {
		log.Warn().Str("payload", payload).Err(err).Msg("index maintainer: malformed hash_added payload")
		return
	}
	h := model.Hash(raw)
	if existing := m.tree.Find(h, 0); len(existing) > 0 {
		return
	}
	m.tree.Insert(h)
}
