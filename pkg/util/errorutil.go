package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes shared by the ticket engine, the admin API and the gateway.
const (
	CodeValidation          = "VALIDATION_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeConflict            = "CONFLICT"
	CodeDuplicateOpenTicket = "DUPLICATE_OPEN_TICKET"
	CodeCorruptMetadata     = "CORRUPT_METADATA"
	CodeEncodingTooLarge    = "ENCODING_TOO_LARGE"
	CodePlatformUnavailable = "PLATFORM_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks. A DomainError matches a sentinel with the same code.
var (
	ErrNotFound            = &DomainError{Code: CodeNotFound}
	ErrConflict            = &DomainError{Code: CodeConflict}
	ErrForbidden           = &DomainError{Code: CodeForbidden}
	ErrValidation          = &DomainError{Code: CodeValidation}
	ErrDuplicateOpenTicket = &DomainError{Code: CodeDuplicateOpenTicket}
	ErrCorruptMetadata     = &DomainError{Code: CodeCorruptMetadata}
	ErrEncodingTooLarge    = &DomainError{Code: CodeEncodingTooLarge}
	ErrPlatformUnavailable = &DomainError{Code: CodePlatformUnavailable}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewDuplicateOpenTicket(details map[string]any) error {
	return NewDomainError(CodeDuplicateOpenTicket, "requester already has an open ticket", http.StatusConflict, details)
}

func NewCorruptMetadata(err error, details map[string]any) error {
	return &DomainError{
		Code:       CodeCorruptMetadata,
		Message:    "corrupt ticket metadata",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
		Err:        err,
	}
}

func NewEncodingTooLarge(size, limit int) error {
	return NewDomainError(CodeEncodingTooLarge, "encoded ticket metadata exceeds field limit", http.StatusUnprocessableEntity,
		map[string]any{"size": size, "limit": limit})
}

// NewPlatformUnavailable wraps a transport failure of the chat platform.
func NewPlatformUnavailable(op string, err error) error {
	return &DomainError{
		Code:       CodePlatformUnavailable,
		Message:    "chat platform unavailable",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"operation": op},
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err is a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if domainErr.HTTPStatus == 0 {
			clone := *domainErr
			clone.HTTPStatus = http.StatusInternalServerError
			return &clone
		}
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
