package indexmaintainer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuzzysearch/internal/hashindex"
	"fuzzysearch/internal/model"
)

type fakeHashSource struct {
	hashes []model.Hash
	err    error
}

func (f *fakeHashSource) AllHashes(ctx context.Context) ([]model.Hash, error) {
	return f.hashes, f.err
}

func TestMaintainer_HandleNotification_InsertsNewHash(t *testing.T) {
	tree := hashindex.New()
	m := New("", &fakeHashSource{}, tree)

	m.handleNotification("42")

	assert.Equal(t, []model.Hash{42}, tree.Find(42, 0))
}

func TestMaintainer_HandleNotification_SkipsExisting(t *testing.T) {
	tree := hashindex.New()
	tree.Insert(42)
	m := New("", &fakeHashSource{}, tree)

	m.handleNotification("42")

	assert.Equal(t, 1, tree.Len())
}

func TestMaintainer_HandleNotification_MalformedPayloadIgnored(t *testing.T) {
	tree := hashindex.New()
	m := New("", &fakeHashSource{}, tree)

	m.handleNotification("not-a-number")

	assert.Equal(t, 0, tree.Len())
}

func TestMaintainer_Cycle_RebuildsFromStoreBeforeListening(t *testing.T) {
	tree := hashindex.New()
	tree.Insert(999) // stale entry that should be gone after rebuild
	src := &fakeHashSource{hashes: []model.Hash{1, 2, 3}}
	m := New("invalid-connstring-never-dials", src, tree)

	// cycle fails when it tries to open the LISTEN connection, but the
	// Building phase's rebuild must have already happened.
	ctx := context.Background()
	err := m.cycle(ctx)
	require.Error(t, err)

	assert.Equal(t, 3, tree.Len())
	assert.Empty(t, tree.Find(999, 0))
}
