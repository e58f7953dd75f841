package ml

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultONNXInput  = "float_input"
	defaultONNXOutput = "variable"
)

var onnxMu sync.Mutex

// InitONNX loads the onnxruntime shared library. It must run before any
// .onnx artifact is loaded and may be called more than once.
func InitONNX(libraryPath string) error {
	onnxMu.Lock()
	defer onnxMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

func ShutdownONNX() error {
	onnxMu.Lock()
	defer onnxMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXModel runs a single-row regression graph. A session is created for
// each prediction and destroyed afterwards, so the value holds no native
// resources between calls.
type ONNXModel struct {
	path        string
	inputName   string
	outputName  string
	numFeatures int
}

func loadONNXModel(path string, opts LoadOptions) (*ONNXModel, error) {
	if !ort.IsInitialized() {
		return nil, ErrONNXUnavailable
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	model := &ONNXModel{
		path:        path,
		inputName:   opts.ONNXInput,
		outputName:  opts.ONNXOutput,
		numFeatures: opts.NumFeatures,
	}
	if model.inputName == "" {
		model.inputName = defaultONNXInput
	}
	if model.outputName == "" {
		model.outputName = defaultONNXOutput
	}
	return model, nil
}

func (m *ONNXModel) Predict(features []float64) (float64, error) {
	if err := checkShape(features, m.numFeatures); err != nil {
		return 0, err
	}

	data := make([]float32, len(features))
	for i, v := range features {
		data[i] = float32(v)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(data))), data)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	session, err := ort.NewAdvancedSession(m.path,
		[]string{m.inputName}, []string{m.outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}
	out := outputTensor.GetData()
	if len(out) == 0 {
		return 0, fmt.Errorf("%w: empty model output", ErrShapeMismatch)
	}
	return float64(out[0]), nil
}

func (m *ONNXModel) NumFeatures() int {
	return m.numFeatures
}

func (m *ONNXModel) FeatureNames() []string {
	return nil
}
