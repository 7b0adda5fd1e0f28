// Package response provides the unified API response envelope.
package response

import (
	"net/http"

	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// Response is the unified API response structure.
type Response struct {
	// Code is the business error code (0 = success)
	Code int `json:"code"`

	// HTTPCode is the HTTP status code
	HTTPCode int `json:"-"`

	// Message is a human-readable message
	Message string `json:"message"`

	// Data contains the response payload (nil for errors)
	Data interface{} `json:"data,omitempty"`
}

// Success creates a successful response with data.
func Success(data interface{}) *Response {
	return SuccessWithMessage("success", data)
}

// Accepted creates a response for work that was queued.
func Accepted(message string, data interface{}) *Response {
	return &Response{
		HTTPCode: http.StatusAccepted,
		Message:  message,
		Data:     data,
	}
}

// SuccessWithMessage creates a successful response with a custom message.
func SuccessWithMessage(message string, data interface{}) *Response {
	return &Response{
		HTTPCode: http.StatusOK,
		Message:  message,
		Data:     data,
	}
}

// Err creates an error response from an Errno.
func Err(e *errors.Errno) *Response {
	if e == nil {
		return Success(nil)
	}
	return &Response{
		Code:     e.Code,
		HTTPCode: e.HTTPStatus(),
		Message:  e.MessageEN,
	}
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Code == 0
}

// HTTPStatus returns the HTTP status code for this response.
func (r *Response) HTTPStatus() int {
	if r.HTTPCode != 0 {
		return r.HTTPCode
	}
	if r.Code == 0 {
		return http.StatusOK
	}
	if e, ok := errors.Lookup(r.Code); ok {
		return e.HTTPStatus()
	}

	switch errors.GetCategory(r.Code) {
	case errors.CategoryRequest:
		return http.StatusBadRequest
	case errors.CategoryResource:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case errors.CategoryNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
