package router

import (
	"errors"
	"fmt"
	"math/big"

	"perproute/pkg/fixedpoint"
)

var (
	ErrPaused              = errors.New("router is paused")
	ErrUnauthorized        = errors.New("caller is not the owner")
	ErrDeadlineExpired     = errors.New("deadline expired")
	ErrInvalidMarket       = errors.New("invalid market")
	ErrInvalidMargin       = errors.New("margin must be positive")
	ErrInvalidLeverage     = errors.New("leverage must be positive")
	ErrInvalidPositionSize = errors.New("position size must be positive")
	ErrInvalidOwner        = errors.New("invalid owner address")
	ErrNoActiveVenues      = errors.New("no active venue available")
	ErrReentrantCall       = errors.New("another call is already in flight for this session")
	ErrVenueUnavailable    = errors.New("no gateway wired for venue")

	// ErrSlippageExceeded matches any *SlippageError via errors.Is.
	ErrSlippageExceeded = errors.New("realized output below minimum")
)

// SlippageError is raised when the realized output of an already-executed
// venue call falls below the caller's declared minimum. The venue-side state
// change has happened by the time this surfaces; Compensated reports whether
// the best-effort corrective call succeeded.
type SlippageError struct {
	MinOut      *big.Int
	Realized    *big.Int
	Compensated bool
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("realized output %v below minimum %v",
		fixedpoint.ToDecimalString(e.Realized), fixedpoint.ToDecimalString(e.MinOut))
}

func (e *SlippageError) Is(target error) bool {
	return target == ErrSlippageExceeded
}
