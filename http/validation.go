package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"reflect"
	"strings"

	"caloriecast/calories"
	"github.com/go-playground/validator/v10"
)

// validationError is one entry of a 422 body.
type validationError struct {
	Type  string         `json:"type"`
	Loc   []any          `json:"loc"`
	Msg   string         `json:"msg"`
	Input any            `json:"input"`
	Ctx   map[string]any `json:"ctx,omitempty"`
}

type validationResponse struct {
	Detail []validationError `json:"detail"`
}

// predictPayload is the wire form of calories.PredictionRequest. Pointers
// tell an absent field apart from a zero one. An explicit null is a type
// error, not a missing field.
type predictPayload struct {
	Gender   *int     `json:"gender" validate:"required"`
	Age      *int     `json:"age" validate:"required"`
	Height   *float64 `json:"height" validate:"required"`
	Weight   *float64 `json:"weight" validate:"required"`
	Duration *float64 `json:"duration" validate:"required"`
}

func (p predictPayload) request() calories.PredictionRequest {
	return calories.PredictionRequest{
		Gender:   *p.Gender,
		Age:      *p.Age,
		Height:   *p.Height,
		Weight:   *p.Weight,
		Duration: *p.Duration,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		return name
	})
	return v
}

// decodePredictionRequest parses and checks a predict body. A non-zero
// status is returned only when the body could not be read at all.
func decodePredictionRequest(body io.Reader) (calories.PredictionRequest, int, []validationError) {
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return calories.PredictionRequest{}, http.StatusRequestEntityTooLarge, nil
		}
		return calories.PredictionRequest{}, 0, []validationError{jsonInvalid(0, err)}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return calories.PredictionRequest{}, 0, []validationError{{
			Type: "missing",
			Loc:  []any{"body"},
			Msg:  "Field required",
		}}
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		var (
			syntaxErr *json.SyntaxError
			extraErr  *extraDataError
			offset    int64
		)
		switch {
		case errors.As(err, &syntaxErr):
			offset = syntaxErr.Offset
		case errors.As(err, &extraErr):
			offset = extraErr.offset
		}
		return calories.PredictionRequest{}, 0, []validationError{jsonInvalid(offset, err)}
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return calories.PredictionRequest{}, 0, []validationError{{
			Type:  "model_attributes_type",
			Loc:   []any{"body"},
			Msg:   "Input should be a valid dictionary or object to extract fields from",
			Input: doc,
		}}
	}

	var payload predictPayload
	problems := map[string]validationError{}
	for _, field := range []struct {
		name    string
		intDest **int
		fltDest **float64
	}{
		{"gender", &payload.Gender, nil},
		{"age", &payload.Age, nil},
		{"height", nil, &payload.Height},
		{"weight", nil, &payload.Weight},
		{"duration", nil, &payload.Duration},
	} {
		value, present := obj[field.name]
		if !present {
			continue
		}
		var problem *validationError
		if field.intDest != nil {
			*field.intDest, problem = coerceInt(value)
		} else {
			*field.fltDest, problem = coerceFloat(value)
		}
		if problem != nil {
			problem.Loc = []any{"body", field.name}
			problem.Input = value
			problems[field.name] = *problem
		}
	}

	if err := validate.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return calories.PredictionRequest{}, 0, []validationError{jsonInvalid(0, err)}
		}
		for _, fe := range fieldErrs {
			if _, seen := problems[fe.Field()]; seen {
				continue
			}
			problems[fe.Field()] = validationError{
				Type:  "missing",
				Loc:   []any{"body", fe.Field()},
				Msg:   "Field required",
				Input: obj,
			}
		}
	}

	if len(problems) > 0 {
		ordered := make([]validationError, 0, len(problems))
		for _, name := range calories.FeatureOrder {
			if problem, ok := problems[name]; ok {
				ordered = append(ordered, problem)
			}
		}
		return calories.PredictionRequest{}, 0, ordered
	}
	return payload.request(), 0, nil
}

func decodeDocument(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	offset := dec.InputOffset()
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &extraDataError{offset: offset}
	}
	return doc, nil
}

type extraDataError struct {
	offset int64
}

func (e *extraDataError) Error() string {
	return "Extra data"
}

func jsonInvalid(offset int64, err error) validationError {
	return validationError{
		Type:  "json_invalid",
		Loc:   []any{"body", offset},
		Msg:   "JSON decode error",
		Input: map[string]any{},
		Ctx:   map[string]any{"error": err.Error()},
	}
}

// coerceInt accepts JSON integers and floats with no fractional part.
func coerceInt(value any) (*int, *validationError) {
	number, ok := value.(json.Number)
	if !ok {
		return nil, &validationError{Type: "int_type", Msg: "Input should be a valid integer"}
	}
	if i, err := number.Int64(); err == nil {
		if i < math.MinInt || i > math.MaxInt {
			return nil, intTooLarge()
		}
		v := int(i)
		return &v, nil
	}

	f, err := number.Float64()
	if err != nil || math.IsInf(f, 0) {
		return nil, intTooLarge()
	}
	if f != math.Trunc(f) {
		return nil, &validationError{
			Type: "int_from_float",
			Msg:  "Input should be a valid integer, got a number with a fractional part",
		}
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, intTooLarge()
	}
	v := int(f)
	return &v, nil
}

func intTooLarge() *validationError {
	return &validationError{
		Type: "int_parsing_size",
		Msg:  "Unable to parse input string as an integer, exceeded maximum size",
	}
}

func coerceFloat(value any) (*float64, *validationError) {
	number, ok := value.(json.Number)
	if !ok {
		return nil, &validationError{Type: "float_type", Msg: "Input should be a valid number"}
	}
	f, err := number.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, &validationError{Type: "finite_number", Msg: "Input should be a finite number"}
	}
	return &f, nil
}
