package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
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
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// NewInvalidSender rejects a webhook delivery whose User-Agent does not
// carry the provider's hook prefix.
func NewInvalidSender(userAgent string) error {
	return NewDomainError("INVALID_SENDER", "invalid webhook sender", http.StatusBadRequest,
		map[string]any{"user_agent": userAgent})
}

// NewInvalidSignature rejects a webhook delivery whose HMAC signature
// header is missing, malformed, or does not match the raw body.
func NewInvalidSignature() error {
	return NewDomainError("INVALID_SIGNATURE", "invalid webhook signature", http.StatusUnauthorized, nil)
}

// NewAuthError wraps exhaustion of both token generation and refresh.
func NewAuthError(err error) error {
	return &DomainError{
		Code:       "AUTH_ERROR",
		Message:    "credential generation and refresh failed",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// NewTicketNotFound reports a missing local ticket during reconciliation.
func NewTicketNotFound(clientID string) error {
	return &DomainError{
		Code:       "TICKET_NOT_FOUND",
		Message:    fmt.Sprintf("ticket with client id %s not found", clientID),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"client_id": clientID},
	}
}

// NewStepMappingUnknown reports a provider status outside the mapping table.
func NewStepMappingUnknown(status string) error {
	return &DomainError{
		Code:       "STEP_MAPPING_UNKNOWN",
		Message:    fmt.Sprintf("provider status %q has no canonical step", status),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"status": status},
	}
}

// NewDuplicateSuppressed reports a webhook delivery dropped by dedupe.
func NewDuplicateSuppressed(deliveryID string) error {
	return &DomainError{
		Code:       "DUPLICATE_SUPPRESSED",
		Message:    fmt.Sprintf("delivery %s already processed", deliveryID),
		HTTPStatus: http.StatusOK,
		Details:    map[string]any{"delivery_id": deliveryID},
	}
}

// NewStoreUnavailable wraps a collaborator store I/O failure.
func NewStoreUnavailable(err error) error {
	return &DomainError{
		Code:       "STORE_UNAVAILABLE",
		Message:    "workflow store unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err carries the given domain error code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
