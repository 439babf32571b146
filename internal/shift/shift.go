package shift

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/xid"
)

// Reconciler tracks the cash drawer of each cashier. A shift is open from
// Start until Close and at most one shift per user is open at a time.
type Reconciler struct {
	store  store.ShiftStore
	logger *zap.Logger
	now    func() time.Time
}

func New(st store.ShiftStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: st, logger: logger, now: time.Now}
}

func (r *Reconciler) Get(ctx context.Context, id string) (*domain.Shift, error) {
	shifts, err := r.store.ListShifts(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range shifts {
		if s.ID == id {
			found := s
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, id)
}

// Active returns the open shift of userID or ErrNoActiveShift.
func (r *Reconciler) Active(ctx context.Context, userID string) (*domain.Shift, error) {
	shifts, err := r.store.ListShifts(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range shifts {
		if s.UserID == userID && s.IsOpen() {
			found := s
			return &found, nil
		}
	}
	return nil, domain.ErrNoActiveShift
}

// RequireOpen gates selling. Admins may sell without a shift, in which
// case the returned shift is nil.
func (r *Reconciler) RequireOpen(ctx context.Context, user domain.User) (*domain.Shift, error) {
	active, err := r.Active(ctx, user.ID)
	if err == nil {
		return active, nil
	}
	if errors.Is(err, domain.ErrNoActiveShift) && user.IsAdmin() {
		return nil, nil
	}
	return nil, err
}

func (r *Reconciler) Start(ctx context.Context, user domain.User, startCash decimal.Decimal) (*domain.Shift, error) {
	if startCash.IsNegative() {
		return nil, fmt.Errorf("%w: start cash must not be negative", store.ErrInvalidRecord)
	}
	if _, err := r.Active(ctx, user.ID); err == nil {
		return nil, fmt.Errorf("%w: user %s", domain.ErrDuplicateActiveShift, user.ID)
	} else if !errors.Is(err, domain.ErrNoActiveShift) {
		return nil, err
	}

	created, err := r.store.CreateShift(ctx, domain.Shift{
		ID:           xid.New("shift"),
		UserID:       user.ID,
		UserName:     user.Name,
		StartTime:    r.now().UTC(),
		StartCash:    startCash,
		ExpectedCash: startCash,
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("shift opened",
		zap.String("shift_id", created.ID),
		zap.String("user_id", user.ID),
		zap.String("start_cash", startCash.StringFixed(2)))
	return created, nil
}

// RecordCashSale adds amount to the expected drawer cash. Refunds pass a
// negative amount. Only cash ever reaches this method.
func (r *Reconciler) RecordCashSale(ctx context.Context, shiftID string, amount decimal.Decimal) (*domain.Shift, error) {
	current, err := r.Get(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if !current.IsOpen() {
		return nil, fmt.Errorf("%w: shift %s is closed", domain.ErrNoActiveShift, shiftID)
	}
	if amount.IsZero() {
		return current, nil
	}
	expected := current.ExpectedCash.Add(amount)
	return r.store.UpdateShift(ctx, shiftID, domain.ShiftPatch{ExpectedCash: &expected})
}

// Close re-reads the shift right before closing it so a shift closed
// elsewhere in the meantime is reported as ErrStaleShiftClose.
func (r *Reconciler) Close(ctx context.Context, shiftID string, counted decimal.Decimal, notes string) (*domain.Shift, error) {
	if counted.IsNegative() {
		return nil, fmt.Errorf("%w: counted cash must not be negative", store.ErrInvalidRecord)
	}
	current, err := r.Get(ctx, shiftID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrStaleShiftClose, shiftID)
	}
	if err != nil {
		return nil, err
	}
	if !current.IsOpen() {
		return nil, fmt.Errorf("%w: %s", domain.ErrStaleShiftClose, shiftID)
	}

	difference := counted.Sub(current.ExpectedCash)
	endTime := r.now().UTC()
	notes = strings.TrimSpace(notes)
	closed, err := r.store.UpdateShift(ctx, shiftID, domain.ShiftPatch{
		EndCash:    &counted,
		Difference: &difference,
		EndTime:    &endTime,
		Notes:      &notes,
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("shift_id", shiftID),
		zap.String("expected", current.ExpectedCash.StringFixed(2)),
		zap.String("counted", counted.StringFixed(2)),
		zap.String("difference", difference.StringFixed(2)),
	}
	if difference.IsZero() {
		r.logger.Info("shift closed", fields...)
	} else {
		r.logger.Warn("shift closed with cash difference", fields...)
	}
	return closed, nil
}
