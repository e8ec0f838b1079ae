package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/logger"
)

// StatusClientClosedRequest is reported when the caller went away before the
// response was ready
const StatusClientClosedRequest = 499

// RetryAfterSeconds is sent with 429 responses
const RetryAfterSeconds = "1"

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Message   string                 `json:"message,omitempty"`
	Code      int                    `json:"code"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// StatusFor maps an error to the HTTP status reported for it
func StatusFor(err error) int {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeRejected, errors.ErrorTypePoolExhausted:
		return http.StatusTooManyRequests
	case errors.ErrorTypePoolClosed, errors.ErrorTypeConnectionLost:
		return http.StatusServiceUnavailable
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeCancelled:
		return StatusClientClosedRequest
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Internal failures keep
// their message out of the response.
func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{
		Error:     string(errors.TypeOf(err)),
		Message:   err.Error(),
		Code:      status,
		RequestID: logger.RequestID(c.Request.Context()),
	}

	var e *errors.Error
	if errors.As(err, &e) && status < http.StatusInternalServerError {
		resp.Details = e.Details
	}
	if status == http.StatusInternalServerError {
		resp.Message = http.StatusText(status)
	}
	if status == http.StatusTooManyRequests {
		c.Header("Retry-After", RetryAfterSeconds)
	}

	_ = c.Error(err)
	respondJSON(c, status, resp)
}
