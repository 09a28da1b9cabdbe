package phash

import (
	"bytes"
	"image"
	"image/gif"
	"strings"
)

// gifDecodeAll returns the decoded frames of an animated (or static)
// GIF, isolated behind its own function so HashFrames doesn't import
// image/gif directly into the error-handling path above.
func gifDecodeAll(data []byte) ([]image.Image, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	frames := make([]image.Image, len(g.Image))
	for i, p := range g.Image {
		frames[i] = p
	}
	return frames, nil
}

// isNotAGIF reports whether err is the image/gif package's plain-string
// "can't recognize format" error, the signal that the input is a
// different format entirely rather than a corrupt GIF.
func isNotAGIF(err error) bool {
	return strings.Contains(err.Error(), "can't recognize format")
}
