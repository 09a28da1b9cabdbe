package phash

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func checkerPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if (x/4+y/4)%2 == 0 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHashBytes_SameImageSameHash(t *testing.T) {
	data := checkerPNG(t)

	h1, err := HashBytes(data)
	require.NoError(t, err)
	h2, err := HashBytes(data)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestHashBytes_DistinctImagesDiffer(t *testing.T) {
	solid, err := HashBytes(solidPNG(t, color.White))
	require.NoError(t, err)
	checker, err := HashBytes(checkerPNG(t))
	require.NoError(t, err)

	assert.NotEqual(t, solid, checker)
	assert.Greater(t, solid.Distance(checker), uint8(0))
}

func TestHashBytes_UnsupportedFormat(t *testing.T) {
	_, err := HashBytes([]byte("not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestHashBytes_TruncatedImage(t *testing.T) {
	data := checkerPNG(t)
	truncated := data[:len(data)/2]

	_, err := HashBytes(truncated)
	assert.ErrorIs(t, err, ErrDecodeFailure)
}

func TestHasher_Hash_CompletesWithSingleSlot(t *testing.T) {
	h := New(1)
	data := checkerPNG(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_, err := h.Hash(ctx, data)
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hash did not complete within timeout")
	}
}

func TestHasher_Hash_CanceledContext(t *testing.T) {
	h := New(1)

	// Hold the only slot so the next acquire blocks on ctx.
	require.NoError(t, h.sem.Acquire(context.Background(), 1))
	defer h.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Hash(ctx, checkerPNG(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHashFrames_PerFrameHashes(t *testing.T) {
	frame1 := image.NewPaletted(image.Rect(0, 0, 16, 16), color.Palette{color.White, color.Black})
	frame2 := image.NewPaletted(image.Rect(0, 0, 16, 16), color.Palette{color.White, color.Black})
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			frame1.Set(x, y, color.White)
			if (x+y)%2 == 0 {
				frame2.Set(x, y, color.Black)
			} else {
				frame2.Set(x, y, color.White)
			}
		}
	}

	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{
		Image: []*image.Paletted{frame1, frame2},
		Delay: []int{0, 0},
	}))

	hashes, err := HashFrames(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, hashes, 2)
}

func TestHashFrames_UnsupportedFormat(t *testing.T) {
	_, err := HashFrames(checkerPNG(t))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
