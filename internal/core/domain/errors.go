package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrRequestNotFound  = errors.New("trade request not found")
	ErrEntryNotFound    = errors.New("review entry not found")
	ErrAlreadyClaimed   = errors.New("document already claimed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflicting state")
	ErrSchemaValidation = errors.New("schema validation failed")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
