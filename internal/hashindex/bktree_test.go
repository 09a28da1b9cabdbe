package hashindex

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuzzysearch/internal/model"
)

func sortedHashes(hs []model.Hash) []model.Hash {
	out := append([]model.Hash(nil), hs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestTree_InsertAndFindExact(t *testing.T) {
	tr := New()
	require.True(t, tr.Insert(model.Hash(0b0000)))
	require.True(t, tr.Insert(model.Hash(0b0001)))
	require.True(t, tr.Insert(model.Hash(0b1111)))

	got := tr.Find(model.Hash(0b0000), 0)
	assert.Equal(t, []model.Hash{0b0000}, got)
}

func TestTree_InsertDuplicateReturnsFalse(t *testing.T) {
	tr := New()
	require.True(t, tr.Insert(model.Hash(42)))
	assert.False(t, tr.Insert(model.Hash(42)))
	assert.Equal(t, 1, tr.Len())
}

func TestTree_FindWithinRadius(t *testing.T) {
	tr := New()
	base := model.Hash(0)
	near := model.Hash(0b1) // distance 1 from base
	far := model.Hash(0b111) // distance 3 from base

	tr.Insert(base)
	tr.Insert(near)
	tr.Insert(far)

	got := sortedHashes(tr.Find(base, 1))
	assert.Equal(t, []model.Hash{base, near}, got)
}

func TestTree_FindBeyondRadiusExcludesFarNode(t *testing.T) {
	tr := New()
	base := model.Hash(0)
	far := model.Hash(-1) // all 64 bits differ

	tr.Insert(base)
	tr.Insert(far)

	got := tr.Find(base, 10)
	assert.Equal(t, []model.Hash{base}, got)
}

func TestTree_EmptyTreeFindReturnsNil(t *testing.T) {
	tr := New()
	assert.Nil(t, tr.Find(model.Hash(0), 5))
	assert.Equal(t, 0, tr.Len())
}

func TestTree_Rebuild_ReplacesContents(t *testing.T) {
	tr := New()
	tr.Insert(model.Hash(1))
	tr.Insert(model.Hash(2))
	require.Equal(t, 2, tr.Len())

	tr.Rebuild([]model.Hash{10, 20, 30})

	assert.Equal(t, 3, tr.Len())
	assert.Empty(t, tr.Find(model.Hash(1), 0))
	assert.ElementsMatch(t, []model.Hash{10, 20, 30}, tr.Find(model.Hash(10), 64))
}

func TestTree_ConcurrentFindDuringRebuild(t *testing.T) {
	tr := New()
	for i := 0; i < 100; i++ {
		tr.Insert(model.Hash(i))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			tr.Find(model.Hash(i), 3)
		}
	}()
	go func() {
		defer wg.Done()
		fresh := make([]model.Hash, 100)
		for i := range fresh {
			fresh[i] = model.Hash(i + 1000)
		}
		tr.Rebuild(fresh)
	}()
	wg.Wait()

	assert.Equal(t, 100, tr.Len())
}

func TestTree_DistanceTriangleInequalityPruning(t *testing.T) {
	tr := New()
	// Build a small chain so pruning logic visits multiple levels.
	hashes := []model.Hash{0, 0b1, 0b11, 0b111, 0b1111, 0b11111}
	for _, h := range hashes {
		tr.Insert(h)
	}

	got := sortedHashes(tr.Find(0, 2))
	assert.Equal(t, []model.Hash{0, 0b1, 0b11}, got)
}
