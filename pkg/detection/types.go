package detection

import (
	"context"
	"image"
)

// DetectedObject is the result of a single detection query against the
// vision-language model. Values are frozen once constructed; every Detect
// call produces a fresh one.
type DetectedObject struct {
	Name               string  `json:"name"`
	ModelName          string  `json:"model_name"`
	Confidence         float64 `json:"confidence"`
	Probability        float64 `json:"probability"`
	NumberOfDetections int     `json:"number_of_detection"`
	IsDetected         bool    `json:"is_detected"`
}

// Detector answers a detection query about an image. When
// confidenceAsTokenProbability is true the confidence is derived from the
// probability mass the model puts on its Yes/No answer token; otherwise the
// model is asked for a 0-10 numeric confidence which is scaled down to 0-1.
type Detector interface {
	Detect(ctx context.Context, img image.Image, description string, threshold float64, confidenceAsTokenProbability bool) (*DetectedObject, error)
}
