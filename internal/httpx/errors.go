package httpx

import (
	"fmt"
	"net/http"
)

// Business error codes
const (
	CodeSuccess = 0

	// Authentication errors (1000-1099)
	CodeUnauthorized = 1001 // Token missing
	CodeInvalidToken = 1002
	CodeTokenExpired = 1003
	CodeForbidden    = 1004 // Token lacks the scope

	// Parameter errors (2000-2099)
	CodeParamInvalid = 2002

	// Renewal errors (3000-3999)
	CodeNotFound      = 3001
	CodeStateConflict = 3003 // Renewal is running elsewhere

	// System errors (5000-5999)
	CodeInternalError = 5001
	CodeStoreError    = 5002
	CodeRenewalFailed = 5003
)

// AppError carries the HTTP status and business code of a failed request
type AppError struct {
	HTTPStatus int
	Code       int
	Message    string
	Err        error // logged only, never returned to the client
	Data       any
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code=%d, message=%s, err=%v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithData adds additional data to the error
func (e *AppError) WithData(data any) *AppError {
	e.Data = data
	return e
}

// NewAppError creates a new AppError
func NewAppError(httpStatus, code int, message string, err error) *AppError {
	return &AppError{HTTPStatus: httpStatus, Code: code, Message: message, Err: err}
}

func orDefault(message, def string) string {
	if message == "" {
		return def
	}
	return message
}

// ErrUnauthorized creates a 401 unauthorized error
func ErrUnauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeUnauthorized, orDefault(message, "unauthorized"), nil)
}

// ErrInvalidToken creates a 401 invalid token error
func ErrInvalidToken(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeInvalidToken, orDefault(message, "invalid token"), nil)
}

// ErrTokenExpired creates a 401 token expired error
func ErrTokenExpired(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeTokenExpired, orDefault(message, "token expired"), nil)
}

// ErrForbidden creates a 403 forbidden error
func ErrForbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, CodeForbidden, orDefault(message, "forbidden"), nil)
}

// ErrParamInvalid creates a 400 parameter error
func ErrParamInvalid(message string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeParamInvalid, orDefault(message, "parameter format error"), nil)
}

// ErrNotFound creates a 404 not found error
func ErrNotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, CodeNotFound, orDefault(message, "renewal not found"), nil)
}

// ErrStateConflict creates a 409 state conflict error
func ErrStateConflict(message string) *AppError {
	return NewAppError(http.StatusConflict, CodeStateConflict, orDefault(message, "renewal is busy"), nil)
}

// ErrInternalError creates a 500 internal error
func ErrInternalError(message string, err error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternalError, orDefault(message, "internal error"), err)
}

// ErrStoreError creates a 500 renewal store error
func ErrStoreError(message string, err error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeStoreError, orDefault(message, "renewal store error"), err)
}

// ErrRenewalFailed creates a 502 error for a run the certificate authority or a plugin failed
func ErrRenewalFailed(message string, err error) *AppError {
	return NewAppError(http.StatusBadGateway, CodeRenewalFailed, orDefault(message, "renewal failed"), err)
}
