package detection

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

// RekognitionAPI is the subset of the Rekognition client the detector uses
type RekognitionAPI interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Rekognition implements LabelDetector and TextDetector with inline image bytes
type Rekognition struct {
	client RekognitionAPI
}

func NewRekognition(client RekognitionAPI) *Rekognition {
	return &Rekognition{client: client}
}

func (r *Rekognition) DetectLabels(ctx context.Context, image []byte, minConfidence float64) ([]Label, error) {
	out, err := r.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: image},
		MinConfidence: aws.Float32(float32(minConfidence)),
	})
	if err != nil {
		return nil, errors.NewDetectionServiceError("detect_labels", "", err)
	}

	labels := make([]Label, 0, len(out.Labels))
	for _, l := range out.Labels {
		labels = append(labels, Label{
			Name:       aws.ToString(l.Name),
			Confidence: float64(aws.ToFloat32(l.Confidence)),
		})
	}
	return labels, nil
}

func (r *Rekognition) DetectText(ctx context.Context, image []byte) ([]TextDetection, error) {
	out, err := r.client.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: image},
	})
	if err != nil {
		return nil, errors.NewDetectionServiceError("detect_text", "", err)
	}

	detections := make([]TextDetection, 0, len(out.TextDetections))
	for _, d := range out.TextDetections {
		detections = append(detections, TextDetection{
			Text:       aws.ToString(d.DetectedText),
			Confidence: float64(aws.ToFloat32(d.Confidence)),
			Type:       string(d.Type),
		})
	}
	return detections, nil
}
