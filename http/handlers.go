package http

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"caloriecast/calories"
	"go.uber.org/zap"
)

const predictPath = "/api/v1/calories/predict"

// Predictor is the part of calories.Predictor the handlers depend on.
type Predictor interface {
	Predict(req calories.PredictionRequest) (calories.PredictionResponse, error)
}

// Handler serves the API routes.
type Handler struct {
	predictor Predictor
	logger    *zap.Logger
	// routes maps each registered path to its methods, for 404 versus 405.
	routes map[string][]string
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type healthResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// NewHandler creates a Handler. logger may be nil.
func NewHandler(predictor Predictor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{predictor: predictor, logger: logger, routes: map[string][]string{}}
}

// Register adds the health, predict and fallback routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	h.mount(mux, http.MethodGet, "/", "/{$}", http.HandlerFunc(h.handleRoot))
	h.Mount(mux, http.MethodPost, predictPath, http.HandlerFunc(h.handlePredict))
	mux.HandleFunc("/", h.handleFallback)
}

// Mount adds an exact-path route that the fallback knows about.
func (h *Handler) Mount(mux *http.ServeMux, method, path string, handler http.Handler) {
	h.mount(mux, method, path, path, handler)
}

func (h *Handler) mount(mux *http.ServeMux, method, path, pattern string, handler http.Handler) {
	h.routes[path] = append(h.routes[path], method)
	mux.Handle(method+" "+pattern, handler)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Message: "System is active", Status: "online"})
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	req, status, problems := decodePredictionRequest(r.Body)
	if status == http.StatusRequestEntityTooLarge {
		writeJSON(w, status, errorResponse{Detail: statusText(status)})
		return
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Detail: problems})
		return
	}

	resp, err := h.predictor.Predict(req)
	if err != nil {
		h.logger.Error("Error during prediction",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFallback answers everything no explicit route matched.
func (h *Handler) handleFallback(w http.ResponseWriter, r *http.Request) {
	methods, ok := h.routes[r.URL.Path]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: statusText(http.StatusNotFound)})
		return
	}

	allow := append([]string(nil), methods...)
	for _, m := range methods {
		if m == http.MethodGet {
			allow = append(allow, http.MethodHead)
		}
	}
	sort.Strings(allow)
	w.Header().Set("Allow", strings.Join(allow, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Detail: statusText(http.StatusMethodNotAllowed)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
