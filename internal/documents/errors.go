package documents

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories surfaced by the document core.
type ErrorKind string

const (
	KindDuplicateDocumentNumber ErrorKind = "duplicate_document_number"
	KindAlreadySigned           ErrorKind = "already_signed"
	KindRoleNotApplicable       ErrorKind = "role_not_applicable"
	KindMissingRequiredField    ErrorKind = "missing_required_field"
	KindStorageFailure          ErrorKind = "storage_failure"
	KindHashComputationFailure  ErrorKind = "hash_computation_failure"
	KindNotFound                ErrorKind = "not_found"
	KindInvalidInput            ErrorKind = "invalid_input"
	KindInternal                ErrorKind = "internal"
)

var (
	ErrDuplicateDocumentNumber = errors.New("documents: duplicate document number")
	ErrAlreadySigned           = errors.New("documents: role already signed")
	ErrRoleNotApplicable       = errors.New("documents: role not applicable")
	ErrMissingRequiredField    = errors.New("documents: missing required field")
	ErrStorageFailure          = errors.New("documents: storage failure")
	ErrHashComputationFailure  = errors.New("documents: hash computation failure")
	ErrNotFound                = errors.New("documents: not found")
	ErrInvalidInput            = errors.New("documents: invalid input")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingBlobStore  = errors.New("blob store is required")
)

var kindSentinels = map[ErrorKind]error{
	KindDuplicateDocumentNumber: ErrDuplicateDocumentNumber,
	KindAlreadySigned:           ErrAlreadySigned,
	KindRoleNotApplicable:       ErrRoleNotApplicable,
	KindMissingRequiredField:    ErrMissingRequiredField,
	KindStorageFailure:          ErrStorageFailure,
	KindHashComputationFailure:  ErrHashComputationFailure,
	KindNotFound:                ErrNotFound,
	KindInvalidInput:            ErrInvalidInput,
}

// ServiceError carries a stable "operation.reason" code, its kind and the underlying cause.
type ServiceError struct {
	code string
	kind ErrorKind
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func (e *ServiceError) Kind() ErrorKind {
	return e.kind
}

// Is matches the sentinel of the error kind, so errors.Is(err, ErrAlreadySigned) holds.
func (e *ServiceError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.kind]
	return ok && sentinel == target
}

func newServiceError(operation, reason string, kind ErrorKind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}

// KindOf reports the kind of err, or KindInternal when err is not a ServiceError.
func KindOf(err error) ErrorKind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	return KindInternal
}

// NewError builds a ServiceError for collaborating services that share this taxonomy.
func NewError(operation, reason string, kind ErrorKind, cause error) error {
	return newServiceError(operation, reason, kind, cause)
}
