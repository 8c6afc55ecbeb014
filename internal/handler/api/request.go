package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/getconvive/convive/internal/domain"
)

// validate is the shared request validator. Struct rules live on the
// request types' `validate` tags; error messages use the json field names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// maxRequestBytes caps API request bodies.
const maxRequestBytes = 1 << 16

// decodeRequest decodes and validates a JSON request body into dst.
// Returns a domain error suitable for handler.ErrorResponse or
// handler.ValidationErrorResponse.
func decodeRequest(r *http.Request, op string, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid(op, "invalid JSON body")
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return domain.Invalid(op, "invalid request")
		}
		var out error
		for _, fe := range verrs {
			field := strings.ToLower(fe.Field())
			message := validationMessage(fe)
			if out == nil {
				out = domain.NewValidationError(op, field, message)
			} else {
				out = domain.AddFieldError(out, field, message)
			}
		}
		return out
	}

	return nil
}

// validationMessage renders a human-readable message for a failed rule.
func validationMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	default:
		return field + " is invalid"
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
