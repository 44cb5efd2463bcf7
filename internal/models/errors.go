package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError carries a client-facing code and message. Err is the cause; it
// is exposed as Details except for internal errors.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

const (
	CodeNotFound            = "NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeConflict            = "CONFLICT"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUnavailable         = "UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

var statusByCode = map[string]int{
	CodeNotFound:            fiber.StatusNotFound,
	CodeValidation:          fiber.StatusBadRequest,
	CodeUnauthorized:        fiber.StatusUnauthorized,
	CodeForbidden:           fiber.StatusForbidden,
	CodeConflict:            fiber.StatusConflict,
	CodeInsufficientBalance: fiber.StatusUnprocessableEntity,
	CodeRateLimited:         fiber.StatusTooManyRequests,
	CodeUnavailable:         fiber.StatusServiceUnavailable,
}

// resourceNames labels repository resources in not-found messages.
var resourceNames = map[string]string{
	"User":      "회원",
	"Post":      "게시글",
	"Comment":   "댓글",
	"AdminNote": "관리자 메모",
	"Image":     "이미지",
	"Position":  "포지션",
}

func newAppError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NewNotFoundError names the missing row, e.g. "게시글(ID 7)을 찾을 수 없습니다".
func NewNotFoundError(resource string, id any) *AppError {
	label, ok := resourceNames[resource]
	if !ok {
		label = resource
	}
	return newAppError(CodeNotFound, fmt.Sprintf("%s(ID %v)을 찾을 수 없습니다", label, id))
}

func NewNotFoundMessage(message string) *AppError {
	return newAppError(CodeNotFound, message)
}

func NewValidationError(message string) *AppError {
	return newAppError(CodeValidation, message)
}

func NewUnauthorizedError(message string) *AppError {
	return newAppError(CodeUnauthorized, message)
}

func NewForbiddenError(message string) *AppError {
	return newAppError(CodeForbidden, message)
}

func NewConflictError(message string) *AppError {
	return newAppError(CodeConflict, message)
}

func NewInsufficientBalanceError(message string) *AppError {
	return newAppError(CodeInsufficientBalance, message)
}

func NewRateLimitedError(message string) *AppError {
	return newAppError(CodeRateLimited, message)
}

func NewUnavailableError(message string, err error) *AppError {
	return &AppError{Code: CodeUnavailable, Message: message, Err: err}
}

func NewInternalError(err error) *AppError {
	return &AppError{Code: CodeInternal, Message: "일시적인 오류가 발생했습니다", Err: err}
}

// StatusFor is the HTTP status for err; anything that is not an AppError
// is a 500.
func StatusFor(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if status, ok := statusByCode[appErr.Code]; ok {
			return status
		}
	}
	return fiber.StatusInternalServerError
}

// RespondWithError writes err as an ErrorResponse with status.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
	}
	body := ErrorResponse{Error: appErr.Message, Code: appErr.Code}
	if appErr.Err != nil && appErr.Code != CodeInternal {
		body.Details = appErr.Err.Error()
	}
	return c.Status(status).JSON(body)
}
