// Package validation decodes and checks sensor readings posted to /describe.
// Every problem is reported per field so clients can fix all of them at once.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/ambient-gateway/internal/models"
)

// ErrValidation matches any *Error via errors.Is.
var ErrValidation = errors.New("validation failed")

// Field names as they appear on the wire.
const (
	FieldBody         = "body"
	FieldTemperatureC = "temperature_c"
	FieldHumidity     = "humidity"
	FieldOutsideTempC = "outside_temp_c"
)

var fieldOrder = []string{FieldBody, FieldTemperatureC, FieldHumidity, FieldOutsideTempC}

// FieldError names one offending field and why it was rejected.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error is returned for any malformed reading. It maps to 422.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *Error) Is(target error) bool {
	return target == ErrValidation
}

// Bounds are the accepted ranges in strict mode.
type Bounds struct {
	MinTemperatureC, MaxTemperatureC float64
	MinHumidity, MaxHumidity         float64
	MinOutsideC, MaxOutsideC         float64
}

// DefaultStrictBounds covers common consumer sensors.
var DefaultStrictBounds = Bounds{
	MinTemperatureC: -40, MaxTemperatureC: 85,
	MinHumidity: 0, MaxHumidity: 100,
	MinOutsideC: -60, MaxOutsideC: 60,
}

type readingInput struct {
	TemperatureC *float64 `json:"temperature_c" validate:"required"`
	Humidity     *float64 `json:"humidity" validate:"required"`
	OutsideTempC *float64 `json:"outside_temp_c" validate:"omitempty"`
}

// ReadingValidator decodes request bodies into models.SensorReading.
// Any finite number is accepted unless strict bounds are enabled.
type ReadingValidator struct {
	validate *validator.Validate
	bounds   *Bounds
}

// NewReadingValidator returns a permissive validator.
func NewReadingValidator() *ReadingValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &ReadingValidator{validate: v}
}

// WithStrictBounds enables range checks.
func (rv *ReadingValidator) WithStrictBounds(b Bounds) *ReadingValidator {
	rv.bounds = &b
	return rv
}

// Decode reads one JSON object from body. Unknown fields are ignored.
// The returned error is always *Error.
func (rv *ReadingValidator) Decode(body io.Reader) (models.SensorReading, error) {
	errs := map[string]string{}

	raw, err := decodeObject(body)
	if err != nil {
		errs[FieldBody] = bodyReason(err)
		return models.SensorReading{}, buildError(errs)
	}

	var in readingInput
	in.TemperatureC = numberField(raw, FieldTemperatureC, errs)
	in.Humidity = numberField(raw, FieldHumidity, errs)
	in.OutsideTempC = numberField(raw, FieldOutsideTempC, errs)

	if err := rv.validate.Struct(in); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return models.SensorReading{}, fmt.Errorf("validate reading: %w", err)
		}
		for _, fe := range ves {
			if _, seen := errs[fe.Field()]; seen {
				continue
			}
			errs[fe.Field()] = reasonFor(fe)
		}
	}

	if rv.bounds != nil {
		rv.checkRange(in.TemperatureC, FieldTemperatureC, rv.bounds.MinTemperatureC, rv.bounds.MaxTemperatureC, errs)
		rv.checkRange(in.Humidity, FieldHumidity, rv.bounds.MinHumidity, rv.bounds.MaxHumidity, errs)
		rv.checkRange(in.OutsideTempC, FieldOutsideTempC, rv.bounds.MinOutsideC, rv.bounds.MaxOutsideC, errs)
	}

	if len(errs) > 0 {
		return models.SensorReading{}, buildError(errs)
	}
	return models.SensorReading{
		TemperatureC: *in.TemperatureC,
		Humidity:     *in.Humidity,
		OutsideTempC: in.OutsideTempC,
	}, nil
}

func (rv *ReadingValidator) checkRange(v *float64, field string, lo, hi float64, errs map[string]string) {
	if v == nil {
		return
	}
	if _, seen := errs[field]; seen {
		return
	}
	tag := fmt.Sprintf("gte=%g,lte=%g", lo, hi)
	if err := rv.validate.Var(*v, tag); err != nil {
		errs[field] = fmt.Sprintf("must be between %g and %g", lo, hi)
	}
}

func decodeObject(body io.Reader) (map[string]json.RawMessage, error) {
	if body == nil {
		return nil, io.EOF
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, io.EOF
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		// literal null
		return nil, &json.UnmarshalTypeError{Value: "null", Type: reflect.TypeOf(raw)}
	}
	return raw, nil
}

func bodyReason(err error) string {
	var maxErr *http.MaxBytesError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return "is required"
	case errors.As(err, &maxErr):
		return fmt.Sprintf("must not exceed %d bytes", maxErr.Limit)
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return "must be valid JSON"
	case errors.As(err, &typeErr):
		return "must be a JSON object"
	default:
		return "could not be read"
	}
}

// numberField returns nil when the field is absent or null; the validator
// then reports it as required. A present non-number is recorded directly.
func numberField(raw map[string]json.RawMessage, name string, errs map[string]string) *float64 {
	msg, ok := raw[name]
	if !ok || bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(msg, &v); err != nil {
		errs[name] = "must be a number"
		return nil
	}
	return &v
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte", "lte":
		return "is out of range"
	default:
		return "is invalid"
	}
}

func buildError(errs map[string]string) *Error {
	out := &Error{}
	for _, f := range fieldOrder {
		if reason, ok := errs[f]; ok {
			out.Fields = append(out.Fields, FieldError{Field: f, Reason: reason})
		}
	}
	return out
}
