package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	model, err := ParseXGBoostModel(loadFixture(t))
	require.NoError(t, err)

	rows := [][]float64{
		{1, 25, 180, 75, 30},
		{0, 40, 165, 60, 10},
		{1, 30},
	}
	targets := []float64{106.2561, 24.2561, 50}

	report, err := Evaluate(model, rows, targets)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Samples)
	assert.Equal(t, 1, report.Failed)
	assert.InDelta(t, 1.0, report.MAE, 1e-4)
	assert.InDelta(t, 1.0, report.RMSE, 1e-4)
	// mean target 65.2561, total sum of squares 2*41^2
	assert.InDelta(t, 1-2.0/(2*41*41), report.R2, 1e-6)
	assert.False(t, math.IsNaN(report.R2))
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	model, err := ParseXGBoostModel(loadFixture(t))
	require.NoError(t, err)

	_, err = Evaluate(model, nil, nil)
	require.Error(t, err)

	_, err = Evaluate(model, [][]float64{{1, 2, 3, 4, 5}}, []float64{1, 2})
	require.Error(t, err)

	_, err = Evaluate(model, [][]float64{{1}}, []float64{1})
	require.Error(t, err)
}
