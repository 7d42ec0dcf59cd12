package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Stable error codes returned to clients. Denial reasons are suitable for
// client-side localized messaging and must not change.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeMessageEmpty       = "MESSAGE_EMPTY"
	CodeMessageTooLong     = "MESSAGE_TOO_LONG"
	CodeDuplicateMessage   = "DUPLICATE_MESSAGE"
	CodeReplyTargetInvalid = "REPLY_TARGET_INVALID"
	CodeInvalidEmoji       = "INVALID_EMOJI"
	CodeReactionsDisabled  = "REACTIONS_DISABLED"
	CodeMessageNotFound    = "MESSAGE_NOT_FOUND"
	CodeUserStateNotFound  = "USER_STATE_NOT_FOUND"
	CodeUserBanned         = "USER_BANNED"
	CodeUserBannedForever  = "USER_BANNED_PERMANENT"
	CodeUserMuted          = "USER_MUTED"
	CodeRateLimit          = "RATE_LIMIT"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error             string     `json:"error"`
	Code              string     `json:"code,omitempty"`
	Details           string     `json:"details,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds,omitempty"`
	Until             *time.Time `json:"until,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error

	// Policy denials carry an optional retry hint or expiry instant.
	RetryAfterSeconds int
	Until             *time.Time
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewConflictError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// NewCodedError builds an error carrying one of the chat-specific codes.
func NewCodedError(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewMessageNotFoundError reports an absent or soft-deleted chat message.
func NewMessageNotFoundError(messageID uint) *AppError {
	return &AppError{
		Code:    CodeMessageNotFound,
		Message: fmt.Sprintf("Message with ID %d not found", messageID),
	}
}

// NewDenialError reports a policy denial with an optional retry hint or expiry.
func NewDenialError(code, message string, retryAfterSeconds int, until *time.Time) *AppError {
	return &AppError{
		Code:              code,
		Message:           message,
		RetryAfterSeconds: retryAfterSeconds,
		Until:             until,
	}
}

// ErrorCode returns the AppError code carried by err, or "" for foreign errors.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// StatusForError maps an error to the HTTP status used by the API.
func StatusForError(err error) int {
	switch ErrorCode(err) {
	case CodeValidation, CodeMessageEmpty, CodeMessageTooLong, CodeReplyTargetInvalid, CodeInvalidEmoji:
		return fiber.StatusBadRequest
	case CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeForbidden, CodeReactionsDisabled, CodeUserBanned, CodeUserBannedForever, CodeUserMuted:
		return fiber.StatusForbidden
	case CodeNotFound, CodeMessageNotFound, CodeUserStateNotFound:
		return fiber.StatusNotFound
	case CodeConflict:
		return fiber.StatusConflict
	case CodeRateLimit, CodeDuplicateMessage:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error:             appErr.Message,
			Code:              appErr.Code,
			RetryAfterSeconds: appErr.RetryAfterSeconds,
			Until:             appErr.Until,
		}
		if appErr.Err != nil && appErr.Code != CodeInternal {
			response.Details = appErr.Err.Error()
		}
		if appErr.RetryAfterSeconds > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(appErr.RetryAfterSeconds))
		}
	} else {
		response = ErrorResponse{
			Error: "Internal server error",
			Code:  CodeInternal,
		}
	}

	c.Locals(LocalErrorCode, response.Code)
	return c.Status(status).JSON(response)
}

// LocalErrorCode is the fiber local holding the code of the error response
// written for the request, if any.
const LocalErrorCode = "errorCode"

// RespondWithAppError writes err using the status derived from its code.
func RespondWithAppError(c *fiber.Ctx, err error) error {
	return RespondWithError(c, StatusForError(err), err)
}
