package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrIncompletePayment    = errors.New("incomplete payment")
	ErrInvalidPayment       = errors.New("invalid payment")
	ErrNoActiveShift        = errors.New("no active shift")
	ErrDuplicateActiveShift = errors.New("shift already open")
	ErrStaleShiftClose      = errors.New("shift is no longer open")
	ErrAuthFailure          = errors.New("invalid credentials")
	ErrForbidden            = errors.New("forbidden role")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrInvalidUnit          = errors.New("invalid product unit")
	ErrLineNotFound         = errors.New("cart line not found")
	ErrAlreadyRefunded      = errors.New("transaction already refunded")

	// ErrAccountSuspended matches ErrAuthFailure under errors.Is.
	ErrAccountSuspended = fmt.Errorf("%w: account suspended", ErrAuthFailure)
)
