package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuzzysearch/internal/model"
)

type fakeIndex struct {
	all []model.Hash
}

func (f *fakeIndex) Find(target model.Hash, radius uint8) []model.Hash {
	var out []model.Hash
	for _, h := range f.all {
		if target.Distance(h) <= radius {
			out = append(out, h)
		}
	}
	return out
}

type fakeStore struct {
	subs map[model.Hash]model.Submission
}

func (f *fakeStore) LookupSubmissionsByHashes(ctx context.Context, hashes []model.Hash) ([]model.Submission, error) {
	var out []model.Submission
	for _, h := range hashes {
		if s, ok := f.subs[h]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeHasher struct {
	hash model.Hash
	err  error
}

func (f *fakeHasher) Hash(ctx context.Context, data []byte) (model.Hash, error) {
	return f.hash, f.err
}

func submission(h model.Hash, url string) model.Submission {
	hh := h
	return model.Submission{Site: model.SiteE621, SiteID: int64(h), URL: url, PerceptualHash: &hh}
}

func TestLookupByHashes_ValidatesInputSize(t *testing.T) {
	s := New(&fakeStore{}, &fakeIndex{}, &fakeHasher{})
	ctx := context.Background()

	_, err := s.LookupByHashes(ctx, nil, 0)
	assert.Error(t, err)

	tooMany := make([]model.Hash, MaxHashesPerRequest+1)
	_, err = s.LookupByHashes(ctx, tooMany, 0)
	assert.Error(t, err)

	_, err = s.LookupByHashes(ctx, []model.Hash{1}, MaxDistance+1)
	assert.Error(t, err)
}

func TestLookupByHashes_ExactMatch(t *testing.T) {
	idx := &fakeIndex{all: []model.Hash{42}}
	store := &fakeStore{subs: map[model.Hash]model.Submission{42: submission(42, "https://example.com/a")}}
	s := New(store, idx, &fakeHasher{})

	results, err := s.LookupByHashes(context.Background(), []model.Hash{42}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.Hash(42), results[0].SearchedHash)
	assert.Equal(t, uint8(0), results[0].Distance)
}

func TestLookupByHashes_NoCandidatesReturnsEmpty(t *testing.T) {
	s := New(&fakeStore{}, &fakeIndex{}, &fakeHasher{})
	results, err := s.LookupByHashes(context.Background(), []model.Hash{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLookupByImage_CloseModeEscalates(t *testing.T) {
	far := model.Hash(0b111) // distance 3 from 0
	idx := &fakeIndex{all: []model.Hash{far}}
	store := &fakeStore{subs: map[model.Hash]model.Submission{far: submission(far, "https://example.com/far")}}
	s := New(store, idx, &fakeHasher{hash: 0})

	hash, results, err := s.LookupByImage(context.Background(), []byte("img"), ModeClose)
	require.NoError(t, err)
	assert.Equal(t, model.Hash(0), hash)
	require.Len(t, results, 1)
	assert.Equal(t, far, results[0].Hash)
}

func TestLookupByImage_ExactModeDoesNotEscalate(t *testing.T) {
	far := model.Hash(0b111)
	idx := &fakeIndex{all: []model.Hash{far}}
	store := &fakeStore{subs: map[model.Hash]model.Submission{far: submission(far, "https://example.com/far")}}
	s := New(store, idx, &fakeHasher{hash: 0})

	_, results, err := s.LookupByImage(context.Background(), []byte("img"), ModeExact)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLookupByImage_UnknownModeRejected(t *testing.T) {
	s := New(&fakeStore{}, &fakeIndex{}, &fakeHasher{})
	_, _, err := s.LookupByImage(context.Background(), []byte("img"), Mode("bogus"))
	assert.Error(t, err)
}

func TestLookupByImageAtDistance_SortsAscending(t *testing.T) {
	near := model.Hash(0b1)
	far := model.Hash(0b111)
	idx := &fakeIndex{all: []model.Hash{far, near}}
	store := &fakeStore{subs: map[model.Hash]model.Submission{
		near: submission(near, "near"),
		far:  submission(far, "far"),
	}}
	s := New(store, idx, &fakeHasher{hash: 0})

	_, results, err := s.LookupByImageAtDistance(context.Background(), []byte("img"), 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
}
