// Package errors contains helper functions and types to work with errors
package errors

import (
	"errors"
	"net/http"
)

// Category defines error category
type Category int

const (
	// CategoryNoError indicates that the operation completed without error.
	CategoryNoError Category = iota
	// CategoryDataError The caller sent invalid data, for example a malformed
	// recipient, a non-positive amount, or an unparseable payload.
	CategoryDataError
	// CategoryUnauthorized The caller could not be authenticated, for example
	// an inbound message from an untrusted counterpart or an unknown reporter.
	CategoryUnauthorized
	// CategoryForbidden The caller is authenticated but not allowed to perform
	// the operation, for example a blacklisted account.
	CategoryForbidden
	// CategoryResourceNotFound The requested resource does not exist,
	// for example an unknown transfer id.
	CategoryResourceNotFound
	// CategoryNotSupported The requested route or protocol is not configured
	// or currently disabled.
	CategoryNotSupported
	// CategoryDataConflict The submission conflicts with already accepted
	// state, for example a stale oracle nonce or a duplicate signature.
	CategoryDataConflict
	// CategoryLocked The component is paused or a policy ceiling would be
	// exceeded, so the operation is refused in its current state.
	CategoryLocked
	// CategoryDependencyFailure An external collaborator failed, for example
	// the messaging transport refused delivery.
	CategoryDependencyFailure
	// CategoryGeneralError The service failed in an unexpected way
	CategoryGeneralError
)

func (c Category) String() string {
	switch c {
	case CategoryDataError:
		return "CategoryDataError"
	case CategoryUnauthorized:
		return "CategoryUnauthorized"
	case CategoryForbidden:
		return "CategoryForbidden"
	case CategoryResourceNotFound:
		return "CategoryResourceNotFound"
	case CategoryNotSupported:
		return "CategoryNotSupported"
	case CategoryDataConflict:
		return "CategoryDataConflict"
	case CategoryLocked:
		return "CategoryLocked"
	case CategoryDependencyFailure:
		return "CategoryDependencyFailure"
	default:
		return "CategoryGeneralError"
	}
}

// ServiceError represents service specific type that
// is used all over the services.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

// Error method to comply with error interface
func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error
func (err ServiceError) Unwrap() error {
	return err.Err
}

// Is implements the custom condition to check an error is equal to a service error
func (err ServiceError) Is(target error) bool {
	return err.Message == target.Error()
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Category == cat {
		return true
	}
	return false
}

// GeneralError returns a general service error
// the message sent to the user is "Internal Server Error"
// the error passed is logged in the logger
func GeneralError(err error) error {
	if err == nil {
		err = errors.New("internal server error")
	}
	return &ServiceError{
		Category: CategoryGeneralError,
		Message:  "Internal Server Error",
		Err:      err,
	}
}

// ResourceNotFoundError returns an error with category ResourceNotFound
func ResourceNotFoundError(err error, message string) error {
	if err == nil {
		err = errors.New("resource not found: " + message)
	}
	return &ServiceError{
		Category: CategoryResourceNotFound,
		Message:  message,
		Err:      err,
	}
}

// BadRequestError returns an error with category DataError
func BadRequestError(err error, message string) error {
	if err == nil {
		err = errors.New("bad request: " + message)
	}
	return &ServiceError{
		Category: CategoryDataError,
		Message:  message,
		Err:      err,
	}
}

// NotSupportedError returns an error with category NotSupported.
// Used for unknown protocols, disabled routes and unsupported chains.
func NotSupportedError(err error, message string) error {
	if err == nil {
		err = errors.New("not supported: " + message)
	}
	return &ServiceError{
		Category: CategoryNotSupported,
		Message:  message,
		Err:      err,
	}
}

// ForbiddenError returns an error with category CategoryForbidden.
// Used for policy rejections such as blacklisted accounts.
func ForbiddenError(err error, message string) error {
	if err == nil {
		err = errors.New("request forbidden")
	}
	return &ServiceError{
		Category: CategoryForbidden,
		Message:  message,
		Err:      err,
	}
}

// UnAuthorizedError returns an error with category CategoryUnauthorized.
// Used for untrusted message origins and unknown reporters.
func UnAuthorizedError(err error, message string) error {
	if err == nil {
		err = errors.New("unauthorized")
	}
	return &ServiceError{
		Category: CategoryUnauthorized,
		Message:  message,
		Err:      err,
	}
}

// ConflictError returns an error with category CategoryDataConflict.
// Used for stale oracle nonces and duplicate reporter signatures.
func ConflictError(err error, message string) error {
	if err == nil {
		err = errors.New("conflict")
	}
	return &ServiceError{
		Category: CategoryDataConflict,
		Message:  message,
		Err:      err,
	}
}

// LockedError returns an error with category CategoryLocked.
// Used for paused components and exceeded rate windows.
func LockedError(err error, message string) error {
	if err == nil {
		err = errors.New("locked")
	}
	return &ServiceError{
		Category: CategoryLocked,
		Message:  message,
		Err:      err,
	}
}

// DependencyError returns an error with category CategoryDependencyFailure.
// Used when an external transport refuses or fails delivery.
func DependencyError(err error, message string) error {
	if err == nil {
		err = errors.New("dependency failure")
	}
	return &ServiceError{
		Category: CategoryDependencyFailure,
		Message:  message,
		Err:      err,
	}
}

// StatusCode returns the HTTP status code for the error category
func (err ServiceError) StatusCode() int {
	switch err.Category {
	case CategoryDataError:
		return http.StatusBadRequest
	case CategoryUnauthorized:
		return http.StatusUnauthorized
	case CategoryForbidden:
		return http.StatusForbidden
	case CategoryResourceNotFound:
		return http.StatusNotFound
	case CategoryNotSupported:
		return http.StatusMethodNotAllowed
	case CategoryDataConflict:
		return http.StatusConflict
	case CategoryLocked:
		return http.StatusLocked
	case CategoryDependencyFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
