// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrPropertyNotFound is returned when no property matches the requested name.
type ErrPropertyNotFound struct {
	PropertyName string
}

func (e *ErrPropertyNotFound) Error() string {
	return fmt.Sprintf("Property not found with name: %s", e.PropertyName)
}

func NewPropertyNotFound(name string) error {
	return &ErrPropertyNotFound{PropertyName: name}
}

// ErrNoReceipts is returned when the property has no allocations for the year.
type ErrNoReceipts struct {
	PropertyName string
	Year         int
}

func (e *ErrNoReceipts) Error() string {
	return fmt.Sprintf("No receipts found for year %d", e.Year)
}

func NewNoReceipts(name string, year int) error {
	return &ErrNoReceipts{PropertyName: name, Year: year}
}

// ErrDuplicateRequest is returned by the producer when an identical request
// is already in flight.
type ErrDuplicateRequest struct {
	Key string
}

func (e *ErrDuplicateRequest) Error() string {
	return fmt.Sprintf("report request already queued: %s", e.Key)
}

func NewDuplicateRequest(key string) error {
	return &ErrDuplicateRequest{Key: key}
}

// IsNotFound reports whether err is a business not-found condition. These
// are never retried.
func IsNotFound(err error) bool {
	var propErr *ErrPropertyNotFound
	var receiptsErr *ErrNoReceipts
	return errors.As(err, &propErr) || errors.As(err, &receiptsErr)
}

func IsDuplicate(err error) bool {
	var dupErr *ErrDuplicateRequest
	return errors.As(err, &dupErr)
}
