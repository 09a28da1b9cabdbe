package hashinput

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuzzysearch/internal/apierr"
	"fuzzysearch/internal/phash"
)

func TestClient_RoundTripsThroughServer(t *testing.T) {
	srv := httptest.NewServer(NewServer(phash.New(4)))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	img := encodePNG(t)

	h, err := c.Hash(context.Background(), img)
	require.NoError(t, err)

	direct, err := phash.HashBytes(img)
	require.NoError(t, err)
	assert.Equal(t, direct, h)
}

func TestClient_BadImage_ReturnsBadRequestError(t *testing.T) {
	srv := httptest.NewServer(NewServer(phash.New(4)))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Hash(context.Background(), []byte("garbage"))
	require.Error(t, err)
	var badReq *apierr.BadRequestError
	assert.ErrorAs(t, err, &badReq)
}
