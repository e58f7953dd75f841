package ml

import (
	"errors"
	"math"
)

// EvalReport summarises regression error over a labelled sample.
type EvalReport struct {
	Samples int     `json:"samples"`
	Failed  int     `json:"failed"`
	MAE     float64 `json:"mae"`
	RMSE    float64 `json:"rmse"`
	R2      float64 `json:"r2"`
}

// Evaluate runs the model over every row. Rows the model rejects are counted
// in Failed and left out of the error figures.
func Evaluate(model Regressor, rows [][]float64, targets []float64) (EvalReport, error) {
	if len(rows) == 0 {
		return EvalReport{}, errors.New("no rows to evaluate")
	}
	if len(rows) != len(targets) {
		return EvalReport{}, errors.New("rows and targets size mismatch")
	}

	var report EvalReport
	var absSum, sqSum, targetSum float64
	used := make([]float64, 0, len(targets))
	for i, row := range rows {
		pred, err := model.Predict(row)
		if err != nil {
			report.Failed++
			continue
		}
		diff := pred - targets[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
		targetSum += targets[i]
		used = append(used, targets[i])
	}

	report.Samples = len(used)
	if report.Samples == 0 {
		return report, errors.New("model rejected every row")
	}
	n := float64(report.Samples)
	report.MAE = absSum / n
	report.RMSE = math.Sqrt(sqSum / n)

	mean := targetSum / n
	var total float64
	for _, y := range used {
		total += (y - mean) * (y - mean)
	}
	if total > 0 {
		report.R2 = 1 - sqSum/total
	}
	return report, nil
}
