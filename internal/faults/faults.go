// Package faults defines the error kinds shared by every engine. Callers
// classify failures with errors.Is against these sentinels; the wrapping
// message carries the operation-specific detail.
package faults

import "errors"

var (
	// ErrValidation covers malformed, duplicate, or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization is returned when the caller lacks the required
	// role or registration.
	ErrAuthorization = errors.New("not authorized")

	// ErrFunding is returned on insufficient contribution, fee, or balance.
	ErrFunding = errors.New("insufficient funding")

	// ErrOperational is returned when the targeted layer is paused.
	ErrOperational = errors.New("layer not operational")

	// ErrConsensus covers oracle responses from unassigned indexes,
	// responses without a matching pending request, and responses to an
	// already finalized request.
	ErrConsensus = errors.New("consensus rejection")
)
