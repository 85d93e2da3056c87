package detection

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	perrors "github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

func TestHasLabel(t *testing.T) {
	tests := []struct {
		name   string
		labels []Label
		want   bool
	}{
		{"exact", []Label{{"Car", 95}}, true},
		{"case insensitive", []Label{{"cAR", 99.1}}, true},
		{"at threshold", []Label{{"Car", 90}}, false},
		{"below threshold", []Label{{"Car", 89.9}}, false},
		{"other label", []Label{{"Vehicle", 99}, {"Automobile", 98}}, false},
		{"substring is not a match", []Label{{"Car Wheel", 99}}, false},
		{"one of many", []Label{{"Road", 99}, {"car", 90.01}}, true},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasLabel(tt.labels, "Car", 90); got != tt.want {
				t.Errorf("HasLabel() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestHasLabelMatchesDefinition checks HasLabel against a direct reading of
// the rule over random label sets.
func TestHasLabelMatchesDefinition(t *testing.T) {
	names := []string{"Car", "car", "CAR", "Truck", "Person", "Cars"}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		var labels []Label
		want := false
		n := rng.Intn(5)
		for j := 0; j < n; j++ {
			l := Label{Name: names[rng.Intn(len(names))], Confidence: float64(rng.Intn(21)) + 80}
			labels = append(labels, l)
			if (l.Name == "Car" || l.Name == "car" || l.Name == "CAR") && l.Confidence > 90 {
				want = true
			}
		}
		if got := HasLabel(labels, "Car", 90); got != want {
			t.Fatalf("HasLabel(%v) = %v, want %v", labels, got, want)
		}
	}
}

func TestLines(t *testing.T) {
	tests := []struct {
		name string
		in   []TextDetection
		want []string
	}{
		{
			"lines preferred over words",
			[]TextDetection{{"STOP", 99, TypeLine}, {"STOP", 99, TypeWord}},
			[]string{"STOP"},
		},
		{
			"words when no lines",
			[]TextDetection{{"ONE", 80, TypeWord}, {"WAY", 81, TypeWord}},
			[]string{"ONE", "WAY"},
		},
		{
			"blank text dropped",
			[]TextDetection{{"  ", 50, TypeLine}, {"EXIT 12", 97, TypeLine}},
			[]string{"EXIT 12"},
		},
		{"nothing", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Lines(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Lines() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeRekognition struct {
	labelsIn *rekognition.DetectLabelsInput
	labels   []types.Label
	texts    []types.TextDetection
	err      error
}

func (f *fakeRekognition) DetectLabels(ctx context.Context, in *rekognition.DetectLabelsInput, _ ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error) {
	f.labelsIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &rekognition.DetectLabelsOutput{Labels: f.labels}, nil
}

func (f *fakeRekognition) DetectText(ctx context.Context, in *rekognition.DetectTextInput, _ ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &rekognition.DetectTextOutput{TextDetections: f.texts}, nil
}

func TestRekognitionDetectLabels(t *testing.T) {
	fake := &fakeRekognition{labels: []types.Label{
		{Name: aws.String("Car"), Confidence: aws.Float32(97.5)},
		{Name: aws.String("Road"), Confidence: aws.Float32(91)},
	}}
	r := NewRekognition(fake)

	labels, err := r.DetectLabels(context.Background(), []byte("img"), 90)
	if err != nil {
		t.Fatal(err)
	}
	if aws.ToFloat32(fake.labelsIn.MinConfidence) != 90 {
		t.Errorf("MinConfidence = %v", aws.ToFloat32(fake.labelsIn.MinConfidence))
	}
	if !bytes.Equal(fake.labelsIn.Image.Bytes, []byte("img")) {
		t.Error("image bytes not forwarded")
	}
	if len(labels) != 2 || labels[0].Name != "Car" || labels[0].Confidence != 97.5 {
		t.Errorf("labels = %+v", labels)
	}
}

func TestRekognitionDetectText(t *testing.T) {
	fake := &fakeRekognition{texts: []types.TextDetection{
		{DetectedText: aws.String("STOP"), Confidence: aws.Float32(99), Type: types.TextTypesLine},
	}}
	r := NewRekognition(fake)

	texts, err := r.DetectText(context.Background(), []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 1 || texts[0].Text != "STOP" || texts[0].Type != TypeLine {
		t.Errorf("texts = %+v", texts)
	}
}

func TestRekognitionErrorsAreDetectionServiceErrors(t *testing.T) {
	r := NewRekognition(&fakeRekognition{err: errors.New("ThrottlingException")})

	if _, err := r.DetectLabels(context.Background(), nil, 90); !perrors.HasCode(err, perrors.ErrorDetectionService) {
		t.Errorf("DetectLabels err = %v", err)
	}
	if _, err := r.DetectText(context.Background(), nil); !perrors.HasCode(err, perrors.ErrorDetectionService) {
		t.Errorf("DetectText err = %v", err)
	}
}

func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPreprocessorPassThrough(t *testing.T) {
	p := NewPreprocessor(1 << 20)
	in := []byte("small enough")

	out, err := p.Prepare(in)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, in) {
		t.Error("small payload should be returned unchanged")
	}
}

func TestPreprocessorShrinksOversizedImage(t *testing.T) {
	in := noisyPNG(t, 400, 300)
	limit := 20 * 1024
	if len(in) <= limit {
		t.Fatalf("fixture too small: %d bytes", len(in))
	}

	out, err := NewPreprocessor(limit).Prepare(in)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(out) > limit {
		t.Errorf("output %d bytes exceeds limit %d", len(out), limit)
	}
	if _, _, err := image.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("output is not a decodable image: %v", err)
	}
}

func TestPreprocessorRejectsGarbage(t *testing.T) {
	if _, err := NewPreprocessor(1024).Prepare(bytes.Repeat([]byte("z"), 4096)); err == nil {
		t.Error("expected decode error")
	}
}
