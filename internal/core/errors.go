package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoValidRecords means validation rejected every row of a non-empty file.
	ErrNoValidRecords = errors.New("no valid records to import")

	// ErrUnknownEntity means the entity type is not in the catalog.
	ErrUnknownEntity = errors.New("unknown entity type")

	// ErrOperationNotFound means the operation ID is unknown or already
	// collected.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrUnsupportedFormat means the file format is neither csv nor xlsx.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyFile means the upload carried no bytes or no header row.
	ErrEmptyFile = errors.New("empty file")

	// ErrInvalidMapping means a rename target is also renamed, so the result
	// would depend on the order renames are applied in.
	ErrInvalidMapping = errors.New("invalid column mapping")

	// ErrWrongKind means a result was requested from the other kind of
	// operation (an import result for an export ID, or vice versa).
	ErrWrongKind = errors.New("operation kind mismatch")
)

// OperationError is the failure of a whole import or export run.
type OperationError struct {
	OperationID string
	Stage       Status
	Err         error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed while %s: %v", e.OperationID, e.Stage, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
