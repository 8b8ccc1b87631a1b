package core

import "fmt"

// ErrorType classifies a DomainError for the caller.
type ErrorType string

const (
	// TypeRequestError marks caller faults: bad input, missing permission,
	// invalid state transition. Surfaced verbatim.
	TypeRequestError ErrorType = "requestError"
	// TypeServiceError marks recognized domain failures, e.g. a conference
	// that does not exist.
	TypeServiceError ErrorType = "serviceError"
	// TypeInternalError marks unexpected failures. The message is generic;
	// internals are never exposed to the client.
	TypeInternalError ErrorType = "internalError"
)

// Error codes, grouped by component.
const (
	CodeValidationFailed    = 1000
	CodePermissionDenied    = 1001
	CodeConferenceNotOpen   = 1002
	CodeInvalidMessage      = 1003
	CodeConferenceNotFound  = 2000
	CodeParticipantNotFound = 2001
	CodeRoomNotFound        = 2002
	CodeBreakoutAlreadyOpen = 2003
	CodeBreakoutNotOpen     = 2004
	CodeInvalidPermission   = 2005
	CodeChatRateLimited     = 2006
	CodeInternal            = 5000
)

// DomainError is the single error shape that crosses the service boundary.
// Exactly one of the envelope branches carries it.
type DomainError struct {
	Type    ErrorType         `json:"type"`
	Message string            `json:"message"`
	Code    int               `json:"code"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Code, e.Message)
}

func RequestError(code int, message string) *DomainError {
	return &DomainError{Type: TypeRequestError, Code: code, Message: message}
}

// FieldValidationError reports per-field validation failures.
func FieldValidationError(fields map[string]string) *DomainError {
	return &DomainError{
		Type:    TypeRequestError,
		Code:    CodeValidationFailed,
		Message: "validation failed",
		Fields:  fields,
	}
}

func ServiceError(code int, message string) *DomainError {
	return &DomainError{Type: TypeServiceError, Code: code, Message: message}
}

// InternalError hides the underlying cause behind a generic message.
func InternalError() *DomainError {
	return &DomainError{
		Type:    TypeInternalError,
		Code:    CodeInternal,
		Message: "an unexpected error occurred",
	}
}

func ConferenceNotFound(conferenceID string) *DomainError {
	return ServiceError(CodeConferenceNotFound, "conference not found: "+conferenceID)
}

func PermissionDenied() *DomainError {
	// Deliberately generic so callers cannot probe which permission failed.
	return RequestError(CodePermissionDenied, "permission denied")
}

func ConferenceNotOpen() *DomainError {
	return RequestError(CodeConferenceNotOpen, "conference is not open")
}
