package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getconvive/convive/internal/domain"
	"github.com/getconvive/convive/internal/telemetry"
)

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.EGONE:
		return http.StatusGone
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests
	case domain.ENOTIMPL:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON error envelope returned by every endpoint.
type errorBody struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error"`
}

// ErrorResponse writes a domain error as an HTTP response.
// JSON clients get the {"error": {"code", "message"}} envelope; anything
// else gets plain text. Internal error details are never sent to clients.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	status := ErrorCodeToHTTPStatus(code)

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"op", domain.ErrorOp(err),
			"error", err,
		)
		telemetry.CaptureErrorFromContext(r.Context(), err, map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"op":     domain.ErrorOp(err),
		})
	}

	if acceptsJSON(r) {
		writeErrorJSON(w, status, code, message, nil)
		return
	}

	http.Error(w, message, status)
}

// ValidationErrorResponse writes a validation error with per-field messages.
// Falls back to ErrorResponse when err is not a ValidationError.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		ErrorResponse(w, r, err)
		return
	}

	if acceptsJSON(r) {
		writeErrorJSON(w, http.StatusBadRequest, domain.EINVALID, "validation failed", ve.Fields)
		return
	}

	http.Error(w, "validation failed", http.StatusBadRequest)
}

// NotFoundResponse writes a generic 404 response.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found."))
}

// UnauthorizedResponse writes a generic 401 response.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required."))
}

// ForbiddenResponse writes a generic 403 response.
func ForbiddenResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EFORBIDDEN, "", "You do not have permission to access this resource."))
}

// InternalErrorResponse writes a generic 500 response, hiding err details.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "internal error"))
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string, fields map[string]string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Fields = fields

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// acceptsJSON reports whether the client wants a JSON response.
func acceptsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasSuffix(r.URL.Path, ".json")
}
