package ml

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported model format")
	ErrCorruptArtifact   = errors.New("corrupt model artifact")
	ErrShapeMismatch     = errors.New("feature shape mismatch")
	ErrONNXUnavailable   = errors.New("onnx runtime is not initialized")
)

// Regressor predicts a single value from one row of positional features.
type Regressor interface {
	Predict(features []float64) (float64, error)
	NumFeatures() int
	// FeatureNames returns the column labels stored with the artifact, if any.
	// They are informational only; Predict never looks at them.
	FeatureNames() []string
}

func checkShape(features []float64, want int) error {
	if want > 0 && len(features) != want {
		return fmt.Errorf("%w: expected %d features, got %d", ErrShapeMismatch, want, len(features))
	}
	return nil
}
