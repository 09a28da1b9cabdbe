package httpapi

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuzzysearch/internal/hashindex"
	"fuzzysearch/internal/lookup"
	"fuzzysearch/internal/metadata"
	"fuzzysearch/internal/model"
)

type fakeStore struct {
	keys         map[string]model.ApiKey
	submissions  map[model.Hash]model.Submission
	limitAllowed bool
}

func (f *fakeStore) LookupApiKey(ctx context.Context, secret string) (model.ApiKey, error) {
	k, ok := f.keys[secret]
	if !ok {
		return model.ApiKey{}, metadata.ErrNotFound
	}
	return k, nil
}

func (f *fakeStore) IncrementRateLimit(ctx context.Context, keyID int64, bucket model.RateLimitBucket, limit, incr int) (bool, int, int, error) {
	if !f.limitAllowed {
		return false, limit + 1, 30, nil
	}
	return true, incr, 0, nil
}

func (f *fakeStore) SubmissionsByFurAffinityFileID(ctx context.Context, fileID int64) ([]model.Submission, error) {
	return nil, nil
}

func (f *fakeStore) KnownHandle(ctx context.Context, site model.Site, handle string) (bool, error) {
	return handle == "known", nil
}

func (f *fakeStore) LookupSubmissionsByHashes(ctx context.Context, hashes []model.Hash) ([]model.Submission, error) {
	var out []model.Submission
	for _, h := range hashes {
		if s, ok := f.submissions[h]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeHasher struct{ hash model.Hash }

func (f *fakeHasher) Hash(ctx context.Context, data []byte) (model.Hash, error) { return f.hash, nil }

func newTestServer(store *fakeStore, tree *hashindex.Tree, hasher lookup.Hasher) *Server {
	svc := lookup.New(store, tree, hasher)
	return NewServer(svc, store, lookup.NewImageFetcher(nil), lookup.DefaultDistance)
}

func TestHandleLookupByHashes_MissingAuth_Returns401(t *testing.T) {
	s := newTestServer(&fakeStore{keys: map[string]model.ApiKey{}}, hashindex.New(), &fakeHasher{})
	req := httptest.NewRequest(http.MethodGet, "/hashes?hashes=1", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLookupByHashes_UnknownKey_Returns401(t *testing.T) {
	s := newTestServer(&fakeStore{keys: map[string]model.ApiKey{}}, hashindex.New(), &fakeHasher{})
	req := httptest.NewRequest(http.MethodGet, "/hashes?hashes=1", nil)
	req.Header.Set("X-Api-Key", "nope")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLookupByHashes_Success(t *testing.T) {
	tree := hashindex.New()
	tree.Insert(42)
	store := &fakeStore{
		keys:         map[string]model.ApiKey{"k": {ID: 1, ImageLimit: 10, HashLimit: 10, NameLimit: 10}},
		submissions:  map[model.Hash]model.Submission{42: {Site: model.SiteE621, SiteID: 42, URL: "https://e/42", PerceptualHash: hashPtr(42)}},
		limitAllowed: true,
	}
	s := newTestServer(store, tree, &fakeHasher{})

	req := httptest.NewRequest(http.MethodGet, "/hashes?hashes=42&distance=0", nil)
	req.Header.Set("X-Api-Key", "k")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("x-rate-limit-total-image"))
	assert.Equal(t, "9", rec.Header().Get("x-rate-limit-remaining-image"))
}

func TestHandleLookupByHashes_MissingParam_Returns400(t *testing.T) {
	store := &fakeStore{keys: map[string]model.ApiKey{"k": {ID: 1, ImageLimit: 10}}, limitAllowed: true}
	s := newTestServer(store, hashindex.New(), &fakeHasher{})

	req := httptest.NewRequest(http.MethodGet, "/hashes", nil)
	req.Header.Set("X-Api-Key", "k")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLookupByHashes_RateLimited_Returns429(t *testing.T) {
	store := &fakeStore{keys: map[string]model.ApiKey{"k": {ID: 1, ImageLimit: 1}}, limitAllowed: false}
	s := newTestServer(store, hashindex.New(), &fakeHasher{})

	req := httptest.NewRequest(http.MethodGet, "/hashes?hashes=1", nil)
	req.Header.Set("X-Api-Key", "k")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleLookupByImage_Success(t *testing.T) {
	tree := hashindex.New()
	store := &fakeStore{
		keys:         map[string]model.ApiKey{"k": {ID: 1, ImageLimit: 10, HashLimit: 10}},
		limitAllowed: true,
	}
	s := newTestServer(store, tree, &fakeHasher{hash: 7})

	body, contentType := multipartImage(t)
	req := httptest.NewRequest(http.MethodPost, "/image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Api-Key", "k")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("x-image-hash"))
}

func TestHandleKnown_NonTwitterServiceReturnsFalse(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, hashindex.New(), &fakeHasher{})

	req := httptest.NewRequest(http.MethodGet, "/known/weasyl?handle=known", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "false", rec.Body.String())
}

func TestHandleKnown_TwitterKnownHandle(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, hashindex.New(), &fakeHasher{})

	req := httptest.NewRequest(http.MethodGet, "/known/twitter?handle=known", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Body.String())
}

func hashPtr(h model.Hash) *model.Hash { return &h }

func multipartImage(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.White)
		}
	}
	var imgBuf bytes.Buffer
	require.NoError(t, png.Encode(&imgBuf, img))

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "upload.png")
	require.NoError(t, err)
	_, err = part.Write(imgBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}
