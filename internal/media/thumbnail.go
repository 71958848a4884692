// Package media normalizes thumbnails before they enter the cache.
package media

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// DefaultMaxEdge bounds thumbnails when no size is configured.
const DefaultMaxEdge = 512

// NormalizeThumbnail re-encodes a thumbnail so its longest edge is at
// most maxEdge pixels. Bounding thumbnails keeps the cache's memory
// estimate honest, since thumbnails dominate the budget. Input already
// within bounds is returned unchanged.
func NormalizeThumbnail(data []byte, maxEdge int) ([]byte, error) {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode thumbnail: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxEdge && bounds.Dy() <= maxEdge {
		return data, nil
	}

	resized := imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
