package hashinput

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuzzysearch/internal/phash"
)

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartImage(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "upload.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func TestServer_ValidImage_Returns200AndHash(t *testing.T) {
	srv := NewServer(phash.New(4))
	body, contentType := multipartImage(t, encodePNG(t))

	req := httptest.NewRequest("POST", "/hash", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	_, err := strconv.ParseInt(rec.Body.String(), 10, 64)
	assert.NoError(t, err)
}

func TestServer_MissingImagePart_Returns400(t *testing.T) {
	srv := NewServer(phash.New(4))
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/hash", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestServer_UndecodableImage_Returns400(t *testing.T) {
	srv := NewServer(phash.New(4))
	body, contentType := multipartImage(t, []byte("not an image"))

	req := httptest.NewRequest("POST", "/hash", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestServer_WrongMethod_Returns405(t *testing.T) {
	srv := NewServer(phash.New(4))
	req := httptest.NewRequest("GET", "/hash", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	assert.Equal(t, 405, rec.Code)
}
