// Package detection wraps the label and text detection services.
package detection

import (
	"context"
	"strings"
)

// Text detection types as reported by the services
const (
	TypeLine = "LINE"
	TypeWord = "WORD"
)

// Label is one label-detection result
type Label struct {
	Name       string
	Confidence float64
}

// TextDetection is one text-detection result
type TextDetection struct {
	Text       string
	Confidence float64
	Type       string
}

// LabelDetector returns labels at or above minConfidence
type LabelDetector interface {
	DetectLabels(ctx context.Context, image []byte, minConfidence float64) ([]Label, error)
}

// TextDetector returns the text found in an image
type TextDetector interface {
	DetectText(ctx context.Context, image []byte) ([]TextDetection, error)
}

// HasLabel reports whether some label equals name, ignoring case, with
// confidence strictly greater than threshold.
func HasLabel(labels []Label, name string, threshold float64) bool {
	for _, l := range labels {
		if strings.EqualFold(l.Name, name) && l.Confidence > threshold {
			return true
		}
	}
	return false
}

// Lines returns the non-empty line texts. Word detections repeat the lines
// they belong to and are dropped unless the service reported no lines.
func Lines(detections []TextDetection) []string {
	var lines, others []string
	for _, d := range detections {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		if strings.EqualFold(d.Type, TypeLine) {
			lines = append(lines, text)
		} else {
			others = append(others, text)
		}
	}
	if len(lines) > 0 {
		return lines
	}
	return others
}
