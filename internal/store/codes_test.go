package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"shelfmaster/pos/internal/domain"
)

func TestIsRejection(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("%w: shift-1", domain.ErrDuplicateActiveShift), true},
		{domain.ErrStaleShiftClose, true},
		{domain.ErrAlreadyRefunded, true},
		{domain.ErrInsufficientStock, true},
		{fmt.Errorf("%w: delta must not be zero", ErrInvalidRecord), true},
		{ErrUnavailable, false},
		{fmt.Errorf("%w: %w: missing bearer token", domain.ErrAuthFailure, ErrSessionRejected), false},
		{ErrNotFound, false},
		{domain.ErrForbidden, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRejection(tc.err), "%v", tc.err)
	}
}

func TestErrorCodeRoundTrip(t *testing.T) {
	assert.Equal(t, "account_suspended", ErrorCode(domain.ErrAccountSuspended))
	assert.Equal(t, domain.ErrStaleShiftClose, ErrorForCode(ErrorCode(domain.ErrStaleShiftClose)))
	assert.Nil(t, ErrorForCode("no_such_code"))
}
