package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"caloriecast/calories"
	"caloriecast/ml"
	"caloriecast/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const fixture = "../ml/testdata/calorie_model.json"

const validBody = `{"gender": 1, "age": 25, "height": 180.0, "weight": 75.0, "duration": 30.0}`

type testServer struct {
	handler http.Handler
	logs    *observer.ObservedLogs
	metrics *monitoring.Metrics
}

func newTestServer(t *testing.T, modelPath string) *testServer {
	t.Helper()
	store, err := ml.NewArtifactStore(ml.StoreConfig{Path: modelPath}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	metrics := monitoring.NewMetrics()
	predictor := calories.NewPredictor(store, metrics, logger)

	server := NewServer(DefaultServerConfig(), predictor, metrics, logger)
	return &testServer{handler: server.Handler(), logs: logs, metrics: metrics}
}

func (s *testServer) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestRootReportsOnline(t *testing.T) {
	srv := newTestServer(t, fixture)

	rec := srv.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"System is active","status":"online"}`, rec.Body.String())
}

func TestRootIgnoresArtifactState(t *testing.T) {
	srv := newTestServer(t, filepath.Join(t.TempDir(), "missing.json"))

	rec := srv.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"System is active","status":"online"}`, rec.Body.String())
}

func TestPredictSuccess(t *testing.T) {
	srv := newTestServer(t, fixture)

	rec := srv.do(http.MethodPost, predictPath, validBody, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"calories_burned":105.26}`, rec.Body.String())
}

func TestPredictDeterministic(t *testing.T) {
	srv := newTestServer(t, fixture)

	first := srv.do(http.MethodPost, predictPath, validBody, nil)
	second := srv.do(http.MethodPost, predictPath, validBody, nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestPredictAcceptsWholeFloatForInteger(t *testing.T) {
	srv := newTestServer(t, fixture)

	rec := srv.do(http.MethodPost, predictPath, `{"gender": 0.0, "age": 40, "height": 165, "weight": 60, "duration": 10}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"calories_burned":25.26}`, rec.Body.String())
}

func TestPredictResultHasTwoDecimals(t *testing.T) {
	srv := newTestServer(t, fixture)

	for _, body := range []string{
		validBody,
		`{"gender": 0, "age": 40, "height": 165, "weight": 60, "duration": 10}`,
		`{"gender": 5, "age": -3, "height": 0, "weight": 200, "duration": 500}`,
	} {
		rec := srv.do(http.MethodPost, predictPath, body, nil)
		require.Equal(t, http.StatusOK, rec.Code, body)

		var resp struct {
			CaloriesBurned json.Number `json:"calories_burned"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		_, decimals, _ := strings.Cut(resp.CaloriesBurned.String(), ".")
		assert.LessOrEqual(t, len(decimals), 2, resp.CaloriesBurned.String())
	}
}

func TestPredictValidationFailures(t *testing.T) {
	srv := newTestServer(t, fixture)

	cases := []struct {
		name    string
		body    string
		wantLoc []any
		typ     string
	}{
		{"missing duration", `{"gender": 1, "age": 25, "height": 180, "weight": 75}`, []any{"body", "duration"}, "missing"},
		{"null weight", `{"gender": 1, "age": 25, "height": 180, "weight": null, "duration": 30}`, []any{"body", "weight"}, "float_type"},
		{"null gender", `{"gender": null, "age": 25, "height": 180, "weight": 75, "duration": 30}`, []any{"body", "gender"}, "int_type"},
		{"string gender", `{"gender": "male", "age": 25, "height": 180, "weight": 75, "duration": 30}`, []any{"body", "gender"}, "int_type"},
		{"fractional age", `{"gender": 1, "age": 25.5, "height": 180, "weight": 75, "duration": 30}`, []any{"body", "age"}, "int_from_float"},
		{"bool height", `{"gender": 1, "age": 25, "height": true, "weight": 75, "duration": 30}`, []any{"body", "height"}, "float_type"},
		{"malformed json", `{"gender": 1,`, []any{"body", float64(0)}, "json_invalid"},
		{"empty body", "", []any{"body"}, "missing"},
		{"array body", `[1, 25, 180, 75, 30]`, []any{"body"}, "model_attributes_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := srv.do(http.MethodPost, predictPath, tc.body, nil)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

			var resp struct {
				Detail []struct {
					Type string `json:"type"`
					Loc  []any  `json:"loc"`
				} `json:"detail"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Len(t, resp.Detail, 1)
			assert.Equal(t, tc.typ, resp.Detail[0].Type)
			assert.Equal(t, tc.wantLoc, resp.Detail[0].Loc)
		})
	}
}

func TestPredictValidationSkipsModel(t *testing.T) {
	srv := newTestServer(t, filepath.Join(t.TempDir(), "missing.json"))

	rec := srv.do(http.MethodPost, predictPath, `{}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Zero(t, srv.logs.FilterMessage("Error during prediction").Len())

	var resp validationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Detail, 5)
}

func TestPredictMissingArtifact(t *testing.T) {
	srv := newTestServer(t, filepath.Join(t.TempDir(), "models", "calorie_model.json"))

	rec := srv.do(http.MethodPost, predictPath, validBody, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Detail, "calorie_model.json")
	assert.Contains(t, resp.Detail, "no such file or directory")

	logged := srv.logs.FilterMessage("Error during prediction").All()
	require.Len(t, logged, 1)
	assert.Equal(t, zap.ErrorLevel, logged[0].Level)
}

func TestPredictCorruptArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calorie_model.json")
	require.NoError(t, writeFile(path, `{"learner": {}}`))
	srv := newTestServer(t, path)

	rec := srv.do(http.MethodPost, predictPath, validBody, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "calorie_model.json")
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, fixture)

	rec := srv.do(http.MethodGet, "/api/v1/unknown", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, rec.Body.String())

	rec = srv.do(http.MethodGet, predictPath, "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
	assert.JSONEq(t, `{"detail":"Method Not Allowed"}`, rec.Body.String())

	rec = srv.do(http.MethodPost, "/", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, fixture)
	srv.do(http.MethodPost, predictPath, validBody, nil)

	rec := srv.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `caloriecast_predictions_total{outcome="success"} 1`)
	assert.Contains(t, body, `caloriecast_http_requests_total{code="200",method="POST",route="/api/v1/calories/predict"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	server := NewServer(DefaultServerConfig(), stubPredictor{}, nil, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerAddr(t *testing.T) {
	config := DefaultServerConfig()
	config.Port = 9123
	assert.Equal(t, ":9123", NewServer(config, stubPredictor{}, nil, nil).Addr())
}
