package metadata

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"fuzzysearch/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	_ = godotenv.Load("../../.env")
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.InitSchema(ctx))
	return s
}

func TestStore_UpsertAndLookupSubmission(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	h := model.Hash(123456789)
	sub := model.Submission{
		Site:           model.SiteE621,
		SiteID:         time.Now().UnixNano(), // unique per run
		URL:            "https://example.com/img.png",
		Filename:       "img.png",
		Artists:        []string{"someone"},
		Rating:         model.RatingGeneral,
		PerceptualHash: &h,
	}

	id, err := s.UpsertSubmission(ctx, sub)
	require.NoError(t, err)
	require.NotZero(t, id)

	found, err := s.LookupSubmissionsByHashes(ctx, []model.Hash{h})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, sub.URL, found[0].URL)
}

func TestStore_IncrementRateLimit_EnforcesLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var keyID int64
	secret := "test-secret-ratelimit"
	err := s.pool.QueryRow(ctx, `
INSERT INTO api_keys(secret, name_limit, image_limit, hash_limit)
VALUES ($1, 2, 2, 2)
ON CONFLICT (secret) DO UPDATE SET name_limit=2, image_limit=2, hash_limit=2
RETURNING id`, secret).Scan(&keyID)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		allowed, count, _, err := s.IncrementRateLimit(ctx, keyID, model.BucketName, 2, 1)
		require.NoError(t, err)
		require.True(t, allowed)
		require.Equal(t, i+1, count)
	}
	allowed, count, retryAfter, err := s.IncrementRateLimit(ctx, keyID, model.BucketName, 2, 1)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 3, count)
	require.GreaterOrEqual(t, retryAfter, 0)
}

func TestStore_IncrementRateLimit_NegativeLimitAlwaysAllows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	allowed, _, _, err := s.IncrementRateLimit(ctx, 999999, model.BucketFile, -1, 1)
	require.NoError(t, err)
	require.True(t, allowed)
}
