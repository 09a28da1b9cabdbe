// Package phash computes perceptual hashes for submitted images, the
// gradient/DCT hash described in spec §4.1. It wraps goimagehash, the
// library this codebase already depends on for that algorithm, and
// adds the two concerns the spec requires on top of it: error
// classification (unsupported format vs. decode failure) and bounded
// concurrency, since hashing is CPU-bound and ingest workers call it
// from many goroutines at once.
package phash

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
	"golang.org/x/sync/semaphore"

	"fuzzysearch/internal/model"
)

// ErrUnsupportedFormat is returned when the input is not a format the
// standard library's image package can decode.
var ErrUnsupportedFormat = errors.New("phash: unsupported image format")

// ErrDecodeFailure is returned when the format is recognized (or
// claims to be) but the bytes are truncated or otherwise malformed.
var ErrDecodeFailure = errors.New("phash: image decode failed")

// DefaultConcurrency is the number of hashes allowed to run at once
// when no explicit limit is configured, per spec §5.
const DefaultConcurrency = 4

// Hasher computes perceptual hashes under a bounded concurrency limit.
// The zero value is not usable; construct with New.
type Hasher struct {
	sem *semaphore.Weighted
}

// New returns a Hasher that allows at most concurrency hashes to run
// at once. A non-positive concurrency falls back to DefaultConcurrency.
func New(concurrency int) *Hasher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Hasher{sem: semaphore.NewWeighted(int64(concurrency))}
}

// Hash decodes data as an image and computes its perceptual hash,
// blocking until a concurrency slot is available or ctx is canceled.
func (h *Hasher) Hash(ctx context.Context, data []byte) (model.Hash, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer h.sem.Release(1)
	return HashBytes(data)
}

// HashBytes decodes data as an image and computes its perceptual hash
// directly, with no concurrency limiting. Most callers should go
// through a Hasher instead; Hasher.Hash calls it once a slot is held,
// and tests call it directly.
func HashBytes(data []byte) (model.Hash, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return 0, ErrUnsupportedFormat
		}
		return 0, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return HashImage(img)
}

// HashImage computes the perceptual hash of an already-decoded image.
func HashImage(img image.Image) (model.Hash, error) {
	ih, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return fromUint64(ih.GetHash()), nil
}

// fromUint64 reinterprets the library's unsigned 64-bit hash as the
// spec's signed int64, by round-tripping through its big-endian byte
// representation. This matches how the hash is packed when stored in
// Postgres and compared bit-for-bit against hashes computed elsewhere.
func fromUint64(u uint64) model.Hash {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], u)
	return model.Hash(int64(binary.BigEndian.Uint64(b[:])))
}

// HashFrames decodes data as a GIF and returns the perceptual hash of
// every frame, in order, per spec §4.1's video/animation extension:
// a frame sequence is hashed frame-by-frame rather than reduced to a
// single representative hash, since any frame may match a still image.
func HashFrames(data []byte) ([]model.Hash, error) {
	g, err := gifDecodeAll(data)
	if err != nil {
		if isNotAGIF(err) {
			return nil, ErrUnsupportedFormat
		}
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	hashes := make([]model.Hash, 0, len(g))
	for _, frame := range g {
		h, err := HashImage(frame)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}
