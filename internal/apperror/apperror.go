package apperror

import "net/http"

type Code string

const (
	BadRequest      Code = "BAD_REQUEST"
	NotFound        Code = "NOT_FOUND"
	Internal        Code = "INTERNAL"
	UnknownCurrency Code = "UNKNOWN_CURRENCY"
	DateNotFound    Code = "DATE_NOT_FOUND"
	NoData          Code = "NO_DATA"
	InvalidRange    Code = "INVALID_RANGE"
)

type AppError struct {
	code    Code
	message string
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

func (e *AppError) Error() string   { return e.message }
func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }

func (e *AppError) HTTPStatus() int {
	switch e.code {
	case BadRequest, UnknownCurrency, InvalidRange:
		return http.StatusBadRequest
	case NotFound, DateNotFound:
		return http.StatusNotFound
	case NoData:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err is an *AppError carrying the given code.
func Is(err error, code Code) bool {
	ae, ok := err.(*AppError)
	return ok && ae.code == code
}
