package store

import (
	"errors"

	"shelfmaster/pos/internal/domain"
)

// errorCodes maps sentinel errors to the stable codes carried in API error bodies.
// Order matters: more specific errors come before the ones they wrap.
var errorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrAccountSuspended, "account_suspended"},
	{domain.ErrAuthFailure, "auth_failure"},
	{domain.ErrForbidden, "forbidden"},
	{domain.ErrDuplicateActiveShift, "duplicate_active_shift"},
	{domain.ErrStaleShiftClose, "stale_shift_close"},
	{domain.ErrAlreadyRefunded, "already_refunded"},
	{domain.ErrInsufficientStock, "insufficient_stock"},
	{domain.ErrInvalidUnit, "invalid_unit"},
	{ErrNotFound, "not_found"},
	{ErrInvalidRecord, "invalid_record"},
}

// ErrorCode returns the wire code for err, or "" when it has none.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// ErrorForCode returns the sentinel for a wire code, or nil when unknown.
func ErrorForCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// rejections are refusals on the merits of the request. Every other failure
// from the remote service leaves the mirror as the better answer.
var rejections = []error{
	domain.ErrDuplicateActiveShift,
	domain.ErrStaleShiftClose,
	domain.ErrAlreadyRefunded,
	domain.ErrInsufficientStock,
	domain.ErrInvalidUnit,
	ErrInvalidRecord,
}

// IsRejection reports whether err is a domain rejection that must reach the
// caller instead of being served from the local mirror.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}
