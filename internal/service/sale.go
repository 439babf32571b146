package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shelfmaster/pos/internal/cart"
	"shelfmaster/pos/internal/checkout"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/stock"
	"shelfmaster/pos/internal/store"
)

type ScanResult struct {
	Product domain.Product      `json:"product"`
	Unit    *domain.ProductUnit `json:"unit,omitempty"`
	Line    domain.CartItem     `json:"line"`
}

// Scan resolves a barcode, primary or unit level, and adds qty of it.
func (s *Service) Scan(ctx context.Context, code string, qty int) (*ScanResult, error) {
	if _, err := s.requireSeller(ctx); err != nil {
		return nil, err
	}
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	product, unit, ok := stock.FindByBarcode(products, code)
	if !ok {
		return nil, fmt.Errorf("%w: barcode %s", store.ErrNotFound, strings.TrimSpace(code))
	}
	return s.addLine(product, unit, qty)
}

// AddProduct adds qty of a product picked by id. An empty unitName sells
// the base unit.
func (s *Service) AddProduct(ctx context.Context, productID string, unitName string, qty int) (*ScanResult, error) {
	if _, err := s.requireSeller(ctx); err != nil {
		return nil, err
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	var unit *domain.ProductUnit
	if unitName = strings.TrimSpace(unitName); unitName != "" && unitName != domain.DefaultUnitName {
		unit = product.Unit(unitName)
		if unit == nil {
			return nil, fmt.Errorf("%w: %s has no unit %s", domain.ErrInvalidUnit, product.Name, unitName)
		}
	}
	return s.addLine(*product, unit, qty)
}

func (s *Service) addLine(product domain.Product, unit *domain.ProductUnit, qty int) (*ScanResult, error) {
	if err := s.cart.AddLine(product, qty, unit); err != nil {
		return nil, err
	}
	key := cart.LineKey{ProductID: product.ID}
	if unit != nil {
		key.UnitName = unit.Name
	}
	res := &ScanResult{Product: product, Unit: unit}
	for _, item := range s.cart.Items() {
		if cart.KeyOf(item) == key {
			res.Line = item
			break
		}
	}
	return res, nil
}

func (s *Service) AdjustLine(ctx context.Context, key cart.LineKey, delta int) error {
	if _, err := s.requireSeller(ctx); err != nil {
		return err
	}
	return s.cart.AdjustQuantity(key, delta)
}

func (s *Service) RemoveLine(ctx context.Context, key cart.LineKey) error {
	if _, err := s.requireSeller(ctx); err != nil {
		return err
	}
	return s.cart.RemoveLine(key)
}

func (s *Service) ClearCart() {
	s.cart.Clear()
	s.mu.Lock()
	s.customer = nil
	s.mu.Unlock()
}

func (s *Service) CartItems() []domain.CartItem {
	return s.cart.Items()
}

func (s *Service) CartTotals(ctx context.Context) (cart.Totals, error) {
	taxRate, err := s.taxRate(ctx)
	if err != nil {
		return cart.Totals{}, err
	}
	return s.cart.Totals(taxRate), nil
}

func (s *Service) taxRate(ctx context.Context) (decimal.Decimal, error) {
	settings, err := s.catalog.GetSettings(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return settings.TaxRate, nil
}

func (s *Service) SetTrainingMode(on bool) error {
	user, err := s.requireUser()
	if err != nil {
		return err
	}
	s.cart.SetTrainingMode(on)
	s.logger.Info("training mode changed", zap.Bool("on", on), zap.String("user_id", user.ID))
	return nil
}

func (s *Service) TrainingMode() bool {
	return s.cart.TrainingMode()
}

// SelectCustomer attaches a customer to the current sale.
func (s *Service) SelectCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	if _, err := s.requireUser(); err != nil {
		return nil, err
	}
	customers, err := s.catalog.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range customers {
		if c.ID == customerID {
			selected := c
			s.mu.Lock()
			s.customer = &selected
			s.mu.Unlock()
			return &selected, nil
		}
	}
	return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, customerID)
}

func (s *Service) SelectedCustomer() *domain.Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.customer == nil {
		return nil
	}
	c := *s.customer
	return &c
}

// Checkout commits the cart. A partially committed sale is still a sale:
// the result carries the failures and the cart is cleared either way.
func (s *Service) Checkout(ctx context.Context, payments []domain.Payment) (*checkout.Result, error) {
	user, err := s.requireSeller(ctx)
	if err != nil {
		return nil, err
	}
	taxRate, err := s.taxRate(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.committer.Commit(ctx, checkout.Request{
		Cart:       s.cart,
		Payments:   payments,
		Cashier:    user,
		Customer:   s.SelectedCustomer(),
		TaxRate:    taxRate,
		TerminalID: s.terminalID,
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.customer = nil
	s.mu.Unlock()

	for _, w := range res.Settlement.Warnings {
		s.logger.Warn("payment accepted with missing details", zap.String("transaction_id", res.Transaction.ID), zap.String("warning", w))
	}
	s.logAudit(ctx, domain.AuditSale, domain.SeverityLow, fmt.Sprintf("tx=%s,total=%s,training=%t,status=%s",
		res.Transaction.ID, res.Transaction.Total.StringFixed(2), res.Transaction.IsTraining, res.Status))
	return res, nil
}

// Refund reverses a committed sale. Admin only.
func (s *Service) Refund(ctx context.Context, transactionID string) (*checkout.Result, error) {
	user, err := s.requireAdmin()
	if err != nil {
		return nil, err
	}
	res, err := s.committer.Refund(ctx, user, strings.TrimSpace(transactionID))
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, domain.AuditRefund, domain.SeverityHigh, fmt.Sprintf("tx=%s,reversal=%s,total=%s",
		transactionID, res.Transaction.ID, res.Transaction.Total.StringFixed(2)))
	return res, nil
}

func (s *Service) OpenShift(ctx context.Context, startCash decimal.Decimal) (*domain.Shift, error) {
	user, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	opened, err := s.shifts.Start(ctx, user, startCash)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, domain.AuditShiftOpen, domain.SeverityLow, fmt.Sprintf("shift=%s,start_cash=%s", opened.ID, startCash.StringFixed(2)))
	return opened, nil
}

// CloseShift closes the current user's open shift against the counted cash.
func (s *Service) CloseShift(ctx context.Context, counted decimal.Decimal, notes string) (*domain.Shift, error) {
	user, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	active, err := s.shifts.Active(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	closed, err := s.shifts.Close(ctx, active.ID, counted, notes)
	if err != nil {
		return nil, err
	}

	severity := domain.SeverityLow
	if closed.Difference != nil && !closed.Difference.IsZero() {
		severity = domain.SeverityMedium
	}
	diff := decimal.Zero
	if closed.Difference != nil {
		diff = *closed.Difference
	}
	s.logAudit(ctx, domain.AuditShiftClose, severity, fmt.Sprintf("shift=%s,expected=%s,counted=%s,difference=%s",
		closed.ID, closed.ExpectedCash.StringFixed(2), counted.StringFixed(2), diff.StringFixed(2)))
	return closed, nil
}

func (s *Service) ActiveShift(ctx context.Context) (*domain.Shift, error) {
	user, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	return s.shifts.Active(ctx, user.ID)
}

// ParkCart sets the current cart aside under note, or "Cart #n" when note
// is blank, and starts an empty one.
func (s *Service) ParkCart(ctx context.Context, note string) (*domain.ParkedCart, error) {
	user, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	items := s.cart.Items()
	if len(items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	note = strings.TrimSpace(note)
	if note == "" {
		mine, err := s.ListParked(ctx)
		if err != nil {
			return nil, err
		}
		note = fmt.Sprintf("Cart #%d", len(mine)+1)
	}
	parked := domain.ParkedCart{Items: items, Note: note, CashierID: user.ID, ParkedAt: s.now().UTC()}
	if c := s.SelectedCustomer(); c != nil {
		parked.CustomerID = c.ID
		parked.CustomerName = c.Name
	}

	saved, err := s.session.SaveParkedCart(ctx, parked)
	if err != nil {
		return nil, err
	}
	s.ClearCart()
	return saved, nil
}

// ListParked returns the current user's parked carts.
func (s *Service) ListParked(ctx context.Context) ([]domain.ParkedCart, error) {
	user, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	all, err := s.session.ListParkedCarts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ParkedCart, 0, len(all))
	for _, p := range all {
		if p.CashierID == user.ID {
			out = append(out, p)
		}
	}
	return out, nil
}

// RetrieveParked replaces the current cart with a parked one.
func (s *Service) RetrieveParked(ctx context.Context, id string) (*domain.ParkedCart, error) {
	user, err := s.requireSeller(ctx)
	if err != nil {
		return nil, err
	}
	parked, err := s.takeParked(ctx, user, id)
	if err != nil {
		return nil, err
	}
	s.cart.Restore(parked.Items)

	s.mu.Lock()
	s.customer = nil
	if parked.CustomerID != "" {
		s.customer = &domain.Customer{ID: parked.CustomerID, Name: parked.CustomerName}
	}
	s.mu.Unlock()
	return parked, nil
}

func (s *Service) DiscardParked(ctx context.Context, id string) error {
	user, err := s.requireUser()
	if err != nil {
		return err
	}
	_, err = s.takeParked(ctx, user, id)
	return err
}

// takeParked removes a parked cart owned by user. Admins may take any.
func (s *Service) takeParked(ctx context.Context, user domain.User, id string) (*domain.ParkedCart, error) {
	id = strings.TrimSpace(id)
	all, err := s.session.ListParkedCarts(ctx)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(all, func(p domain.ParkedCart) bool { return p.ID == id })
	if idx < 0 {
		return nil, fmt.Errorf("%w: parked cart %s", store.ErrNotFound, id)
	}
	if all[idx].CashierID != user.ID && !user.IsAdmin() {
		return nil, fmt.Errorf("%w: parked cart %s belongs to another cashier", domain.ErrForbidden, id)
	}
	return s.session.TakeParkedCart(ctx, id)
}
