// Package http implements the thin HTTP surface: open-tracking pixel,
// blocklist lookup, spamd wrapper endpoints, and health checks.
package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/frappe/mail/pkg/apperr"
	"github.com/frappe/mail/pkg/logger"
)

// APIResponse is the standard envelope for every JSON response this
// surface returns.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Time    string      `json:"timestamp"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func SuccessResponse(c *fiber.Ctx, data any) error {
	return c.JSON(APIResponse{Success: true, Data: data, Time: now()})
}

// AppErrorResponse renders err through apperr's status/code mapping.
func AppErrorResponse(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return c.Status(appErr.Status).JSON(APIResponse{
		Success: false,
		Error:   &APIError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details},
		Time:    now(),
	})
}

// InternalErrorResponse logs err with operation context and returns a
// generic 500 — callers never see the underlying error string.
func InternalErrorResponse(c *fiber.Ctx, err error, operation string) error {
	logger.WithError(err).WithField("operation", operation).Error("internal error")
	return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
		Success: false,
		Error:   &APIError{Code: apperr.CodeInternalError, Message: operation + " failed"},
		Time:    now(),
	})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
