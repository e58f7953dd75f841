// Package calories turns a workout description into a calories-burned
// estimate using the regression artifact on disk.
package calories

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"caloriecast/ml"
	"caloriecast/monitoring"
	"go.uber.org/zap"
)

// PredictionRequest is one workout. No range checks are applied: gender is
// not restricted to 0/1 and negative values are passed through.
type PredictionRequest struct {
	Gender   int     `json:"gender"`
	Age      int     `json:"age"`
	Height   float64 `json:"height"`
	Weight   float64 `json:"weight"`
	Duration float64 `json:"duration"`
}

// PredictionResponse carries the estimate rounded to two decimals.
type PredictionResponse struct {
	CaloriesBurned float64 `json:"calories_burned"`
}

// FeatureOrder is the column order the artifact was trained with.
var FeatureOrder = []string{"gender", "age", "height", "weight", "duration"}

// Features lays the request out positionally in FeatureOrder.
func Features(req PredictionRequest) []float64 {
	return []float64{
		float64(req.Gender),
		float64(req.Age),
		req.Height,
		req.Weight,
		req.Duration,
	}
}

// Round2 rounds to two decimals using the shortest correctly rounded decimal
// of the exact binary value, so ties resolve to even like Python's round.
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', 2, 64), 64)
	if err != nil {
		return x
	}
	return rounded
}

// ArtifactLoader yields the regressor to use for one prediction.
type ArtifactLoader interface {
	Load() (ml.Regressor, error)
}

// Predictor runs one workout through the current artifact.
type Predictor struct {
	loader  ArtifactLoader
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewPredictor builds a Predictor. metrics and logger may be nil.
func NewPredictor(loader ArtifactLoader, metrics *monitoring.Metrics, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{loader: loader, metrics: metrics, logger: logger.Named("predictor")}
}

// Predict loads the artifact and runs single-row inference. Every call goes
// back to the loader; nothing is retained between requests.
func (p *Predictor) Predict(req PredictionRequest) (PredictionResponse, error) {
	start := time.Now()
	resp, err := p.predict(req)

	outcome := monitoring.OutcomeSuccess
	if err != nil {
		outcome = monitoring.OutcomeError
	}
	if p.metrics != nil {
		p.metrics.ObservePrediction(outcome, time.Since(start))
	}
	return resp, err
}

func (p *Predictor) predict(req PredictionRequest) (PredictionResponse, error) {
	model, err := p.loader.Load()
	if err != nil {
		return PredictionResponse{}, err
	}

	features := Features(req)
	raw, err := model.Predict(features)
	if err != nil {
		return PredictionResponse{}, err
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return PredictionResponse{}, fmt.Errorf("model produced a non-finite prediction: %v", raw)
	}

	p.logger.Debug("prediction",
		zap.Float64s("features", features),
		zap.Float64("raw", raw))
	return PredictionResponse{CaloriesBurned: Round2(raw)}, nil
}
