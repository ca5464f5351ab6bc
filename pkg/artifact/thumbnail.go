package artifact

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Default preview bounds
const (
	DefaultThumbnailWidth  = 300
	DefaultThumbnailHeight = 300
)

// Thumbnail is a JPEG preview of an artifact
type Thumbnail struct {
	Data   []byte
	Width  int
	Height int
}

// Thumbnail fits the artifact into width x height (Lanczos) and encodes it as
// JPEG quality 80. Non-positive bounds fall back to the defaults.
func (a *Artifact) Thumbnail(width, height int) (*Thumbnail, error) {
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	if height <= 0 {
		height = DefaultThumbnailHeight
	}

	img, err := a.Decode()
	if err != nil {
		return nil, err
	}

	thumb := imaging.Fit(img, width, height, imaging.Lanczos)
	bounds := thumb.Bounds()

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	return &Thumbnail{
		Data:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
