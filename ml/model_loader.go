package ml

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadOptions carries backend specific settings for LoadModel.
type LoadOptions struct {
	// NumFeatures is the expected input width. Only the ONNX backend needs it,
	// XGBoost artifacts record their own width.
	NumFeatures int
	ONNXInput   string
	ONNXOutput  string
}

// LoadModel reads the artifact at path, choosing the backend from its
// extension: .json for XGBoost, .onnx for ONNX.
func LoadModel(path string, opts LoadOptions) (Regressor, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		model, err := ParseXGBoostModel(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		return model, nil
	case ".onnx":
		model, err := loadONNXModel(path, opts)
		if err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}
