package assist

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure reasons recorded in the action log, the audit trail, and on the
// returned error.
const (
	ReasonPermissionDenied     = "permission_denied"
	ReasonInvalidTopic         = "invalid_topic"
	ReasonInvalidType          = "invalid_type"
	ReasonUnsupportedType      = "unsupported_type"
	ReasonInvalidStatus        = "invalid_status"
	ReasonInvalidPayload       = "invalid_payload"
	ReasonInvalidPatch         = "invalid_patch"
	ReasonNotFound             = "not_found"
	ReasonSubscriptionNotFound = "subscription_not_found"
	ReasonStaleCategory        = "stale_subscription_category"
	ReasonNoFindings           = "no_findings"
	ReasonBackendFailed        = "backend_failed"
	ReasonStorageFailed        = "storage_failed"
)

// Error is the assistant's caller-visible failure. Status carries the HTTP
// class of the failure; Reason is the stable machine-readable cause.
type Error struct {
	Err     error
	Message string
	Reason  string
	Status  int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func permissionError() *Error {
	return &Error{
		Status:  http.StatusForbidden,
		Reason:  ReasonPermissionDenied,
		Message: "assistance is disabled",
	}
}

func validationError(reason, format string, args ...any) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

func notFoundError(reason, format string, args ...any) *Error {
	return &Error{
		Status:  http.StatusNotFound,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

func conflictError(reason, format string, args ...any) *Error {
	return &Error{
		Status:  http.StatusConflict,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

func internalError(reason, message string, err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// StatusOf extracts the HTTP status class from err, defaulting to 500 for
// errors that did not come out of this package.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// ReasonOf extracts the machine-readable failure reason, empty for foreign
// errors.
func ReasonOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

// IsPermissionDenied reports whether err is the gate's uniform denial.
func IsPermissionDenied(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Status == http.StatusForbidden
}

// IsNotFound reports whether err is a missing or foreign-owned record.
func IsNotFound(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// IsConflict reports whether err is a staleness conflict.
func IsConflict(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Status == http.StatusConflict
}

// IsValidation reports whether err is a rejected input.
func IsValidation(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Status == http.StatusBadRequest
}
