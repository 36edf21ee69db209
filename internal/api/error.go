package api

import (
	"errors"
	"fmt"
)

// Error is the WordPress REST error object: {code, message, data: {status}}
type Error struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    ErrorData `json:"data"`

	// HTTPStatus is the status line of the response that carried the error.
	HTTPStatus int `json:"-"`
}

// ErrorData carries the status WordPress reports alongside an error
type ErrorData struct {
	Status int `json:"status"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d: %s", e.Status(), e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status(), e.Message)
}

// Status returns data.status, falling back to the HTTP status code
func (e *Error) Status() int {
	if e.Data.Status != 0 {
		return e.Data.Status
	}
	return e.HTTPStatus
}

// IsNotFound reports whether err is a 404 from the REST API
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status() == 404
}

// IsPermissionError reports whether the API refused the current user
func IsPermissionError(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status() == 401 || apiErr.Status() == 403
}
