package classifier

import (
	"context"
	"errors"
)

// Labels emitted by the binary chest X-ray classifier.
const (
	LabelNormal    = "Normal"
	LabelPneumonia = "Pneumonia"
)

// ErrInvalidImage indicates the submitted payload could not be decoded or
// prepared for inference. No prediction record may be created on this path.
var ErrInvalidImage = errors.New("invalid image")

// Result contains the outcome of one classification.
type Result struct {
	Label       string
	Probability float32
}

// Client exposes the subset of classifier functionality used by the
// prediction flow.
type Client interface {
	Classify(ctx context.Context, imageBytes []byte) (*Result, error)
}

// LabelFor derives the label from a raw probability. The threshold is fixed:
// strictly greater than 0.5 means Normal, a tie resolves to Pneumonia.
func LabelFor(probability float32) string {
	if probability > 0.5 {
		return LabelNormal
	}
	return LabelPneumonia
}
