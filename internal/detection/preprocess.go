package detection

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const (
	defaultMaxBytes    = 5 << 20 // Rekognition inline image limit
	minShrinkDimension = 64
)

// Preprocessor shrinks images that exceed the detection payload limit.
type Preprocessor struct {
	MaxBytes int
	Quality  int
}

func NewPreprocessor(maxBytes int) *Preprocessor {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Preprocessor{MaxBytes: maxBytes, Quality: 85}
}

// Prepare returns image unchanged when it fits. Otherwise it decodes the
// image, applies EXIF orientation and re-encodes it as JPEG, scaling down
// by a quarter each round until the encoding fits.
func (p *Preprocessor) Prepare(image []byte) ([]byte, error) {
	if len(image) <= p.MaxBytes {
		return image, nil
	}

	src, err := imaging.Decode(bytes.NewReader(image), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	dim := bounds.Dx()
	if bounds.Dy() > dim {
		dim = bounds.Dy()
	}

	for dim >= minShrinkDimension {
		resized := imaging.Fit(src, dim, dim, imaging.Lanczos)

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(p.Quality)); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		if buf.Len() <= p.MaxBytes {
			return buf.Bytes(), nil
		}
		dim = dim * 3 / 4
	}

	return nil, fmt.Errorf("image cannot be reduced below %d bytes", p.MaxBytes)
}
