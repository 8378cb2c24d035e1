package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"gowa-sessions/internal/service"
)

type errorBody struct {
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

type response struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

func SuccessResponse(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, response{Success: true, Message: message, Data: data})
}

func ErrorResponse(c echo.Context, status int, message, code, details string) error {
	return c.JSON(status, response{
		Success: false,
		Message: message,
		Error:   &errorBody{Code: code, Details: details},
	})
}

// serviceError maps an orchestrator error kind onto a status and code.
func serviceError(c echo.Context, err error) error {
	var svcErr *service.Error
	message := err.Error()
	if errors.As(err, &svcErr) {
		message = svcErr.Message
	}

	switch {
	case errors.Is(err, service.ErrValidation):
		return ErrorResponse(c, http.StatusBadRequest, message, "VALIDATION_ERROR", "")
	case errors.Is(err, service.ErrSessionNotFound):
		return ErrorResponse(c, http.StatusNotFound, message, "SESSION_NOT_FOUND", "")
	case errors.Is(err, service.ErrQRNotAvailable):
		return ErrorResponse(c, http.StatusNotFound, message, "QR_NOT_AVAILABLE", "Initialize the session and wait for the qr_generated event")
	case errors.Is(err, service.ErrSessionNotConnected):
		return ErrorResponse(c, http.StatusServiceUnavailable, message, "NOT_CONNECTED", "Please check the session status endpoint")
	case errors.Is(err, service.ErrUpstream):
		details := ""
		if svcErr != nil && svcErr.Err != nil {
			details = svcErr.Err.Error()
		}
		return ErrorResponse(c, http.StatusBadGateway, message, "UPSTREAM_ERROR", details)
	}
	return ErrorResponse(c, http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR", err.Error())
}

// HTTPErrorHandler renders echo's own errors (404 routes, bad methods,
// rate limiting) in the same envelope as handler errors.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := "Internal Server Error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}

	errCode := "INTERNAL_ERROR"
	switch code {
	case http.StatusUnauthorized:
		message, errCode = "Authentication required", "UNAUTHORIZED"
	case http.StatusMethodNotAllowed:
		message, errCode = "Method not allowed for this endpoint", "METHOD_NOT_ALLOWED"
	case http.StatusNotFound:
		message, errCode = "Endpoint not found", "NOT_FOUND"
	case http.StatusTooManyRequests:
		errCode = "RATE_LIMITED"
	case http.StatusForbidden:
		errCode = "FORBIDDEN"
	case http.StatusBadRequest:
		errCode = "INVALID_REQUEST"
	}
	_ = ErrorResponse(c, code, message, errCode, "")
}
