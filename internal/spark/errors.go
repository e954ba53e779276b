package spark

import "errors"

// Domain-specific errors for Spark block operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrBlockNotFound is returned when a referenced block does not exist
	// in the cached service state.
	ErrBlockNotFound = errors.New("spark: block not found")

	// ErrFieldNotFound is returned when a block exists but the requested
	// data field does not, even after postfix-tolerant matching.
	ErrFieldNotFound = errors.New("spark: block field not found")

	// ErrWriteFailed is returned when a block write to the device service fails.
	ErrWriteFailed = errors.New("spark: block write failed")

	// ErrInvalidBlock is returned for writes missing an ID or service.
	ErrInvalidBlock = errors.New("spark: invalid block")
)
