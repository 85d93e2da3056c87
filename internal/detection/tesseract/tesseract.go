/**
 * Tesseract text detection
 *
 * Local, offline alternative to the managed text-detection API.
 * Requires libtesseract at build and run time (cgo).
 */

package tesseract

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/visionpipe-worker/internal/detection"
	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

// Detector implements detection.TextDetector with Tesseract
type Detector struct {
	languages []string
}

// Config holds Tesseract configuration
type Config struct {
	// Languages is a "+" or "," separated list such as "eng+deu".
	Languages string
}

// NewDetector creates a Tesseract text detector
func NewDetector(cfg *Config) *Detector {
	langs := strings.FieldsFunc(cfg.Languages, func(r rune) bool { return r == '+' || r == ',' })
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &Detector{languages: langs}
}

// DetectText returns one LINE detection per recognised text line
func (d *Detector) DetectText(ctx context.Context, image []byte) ([]detection.TextDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(d.languages...); err != nil {
		return nil, errors.NewDetectionServiceError("tesseract_language", "", err)
	}

	if err := client.SetImageFromBytes(image); err != nil {
		return nil, errors.NewDetectionServiceError("tesseract_image", "", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, errors.NewDetectionServiceError("tesseract_ocr", "", err)
	}

	detections := make([]detection.TextDetection, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		detections = append(detections, detection.TextDetection{
			Text:       text,
			Confidence: box.Confidence,
			Type:       detection.TypeLine,
		})
	}
	return detections, nil
}
