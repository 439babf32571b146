package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"shelfmaster/pos/internal/cart"
	"shelfmaster/pos/internal/checkout"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/gateway"
	"shelfmaster/pos/internal/shift"
	"shelfmaster/pos/internal/xid"
)

// SessionStore keeps terminal-local state that never goes to the remote
// service: the cart snapshot and parked carts.
type SessionStore interface {
	cart.Snapshotter
	LoadCartSnapshot(ctx context.Context) ([]domain.CartItem, error)
	ListParkedCarts(ctx context.Context) ([]domain.ParkedCart, error)
	SaveParkedCart(ctx context.Context, parked domain.ParkedCart) (*domain.ParkedCart, error)
	TakeParkedCart(ctx context.Context, id string) (*domain.ParkedCart, error)
}

type Options struct {
	TerminalID       string
	SnapshotDebounce time.Duration
	Logger           *zap.Logger
}

// Service is one cashier session on one terminal. Every mutation runs on
// the caller's goroutine; the mutex only guards session fields against
// concurrent readers.
type Service struct {
	catalog   *gateway.Gateway
	session   SessionStore
	cart      *cart.Cart
	shifts    *shift.Reconciler
	committer *checkout.Committer
	logger    *zap.Logger

	terminalID string
	now        func() time.Time

	mu       sync.RWMutex
	user     *domain.User
	customer *domain.Customer
}

func New(catalog *gateway.Gateway, session SessionStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TerminalID == "" {
		opts.TerminalID = "terminal-1"
	}

	shifts := shift.New(catalog, logger.Named("shift"))
	return &Service{
		catalog:    catalog,
		session:    session,
		cart:       cart.New(session, opts.SnapshotDebounce, logger.Named("cart")),
		shifts:     shifts,
		committer:  checkout.New(catalog, shifts, logger.Named("checkout")),
		logger:     logger,
		terminalID: opts.TerminalID,
		now:        time.Now,
	}
}

// Login authenticates against the catalog and restores the cart left by an
// interrupted session.
func (s *Service) Login(ctx context.Context, username string, pin string) (*domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || pin == "" {
		return nil, domain.ErrAuthFailure
	}

	result, err := s.catalog.Login(ctx, username, pin)
	if err != nil {
		if errors.Is(err, domain.ErrAuthFailure) {
			s.logger.Warn("login rejected", zap.String("username", username), zap.Error(err))
		}
		return nil, err
	}
	user := result.User.Public()

	s.mu.Lock()
	s.user = &user
	s.customer = nil
	s.mu.Unlock()

	if items, err := s.session.LoadCartSnapshot(ctx); err != nil {
		s.logger.Warn("failed to load cart snapshot", zap.Error(err))
	} else if len(items) > 0 {
		s.cart.Restore(items)
		s.logger.Info("resumed cart from previous session", zap.Int("lines", len(items)))
	}

	s.logAudit(ctx, domain.AuditLogin, domain.SeverityLow, fmt.Sprintf("terminal=%s", s.terminalID))
	return &user, nil
}

// Logout ends the session. The cart snapshot survives for the next login.
func (s *Service) Logout() {
	s.cart.Flush()
	s.mu.Lock()
	s.user = nil
	s.customer = nil
	s.mu.Unlock()
	s.catalog.Logout()
}

func (s *Service) CurrentUser() (*domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, false
	}
	user := *s.user
	return &user, true
}

// Close flushes the pending cart snapshot.
func (s *Service) Close() {
	s.cart.Close()
}

func (s *Service) Health(ctx context.Context) gateway.Status {
	return s.catalog.Status(ctx)
}

// Resync replays offline writes. Admin only.
func (s *Service) Resync(ctx context.Context) (gateway.ResyncReport, error) {
	if _, err := s.requireAdmin(); err != nil {
		return gateway.ResyncReport{}, err
	}
	return s.catalog.Resync(ctx)
}

func (s *Service) requireUser() (domain.User, error) {
	user, ok := s.CurrentUser()
	if !ok {
		return domain.User{}, fmt.Errorf("%w: not logged in", domain.ErrAuthFailure)
	}
	return *user, nil
}

func (s *Service) requireAdmin() (domain.User, error) {
	user, err := s.requireUser()
	if err != nil {
		return domain.User{}, err
	}
	if !user.IsAdmin() {
		return domain.User{}, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return user, nil
}

// requireSeller gates the cart: cashiers need an open shift, admins do not.
func (s *Service) requireSeller(ctx context.Context) (domain.User, error) {
	user, err := s.requireUser()
	if err != nil {
		return domain.User{}, err
	}
	if _, err := s.shifts.RequireOpen(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (s *Service) logAudit(ctx context.Context, action domain.AuditAction, severity domain.Severity, detail string) {
	entry := domain.AuditEntry{
		ID:       xid.New("audit"),
		At:       s.now().UTC(),
		UserID:   "system",
		UserName: "system",
		Action:   action,
		Details:  detail,
		Severity: severity,
	}
	if user, ok := s.CurrentUser(); ok {
		entry.UserID = user.ID
		entry.UserName = user.Name
	}

	if err := s.catalog.AppendAuditEntry(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit entry",
			zap.String("action", string(action)),
			zap.String("detail", detail),
			zap.Error(err))
	}
}
