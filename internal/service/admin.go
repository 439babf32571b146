package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"shelfmaster/pos/internal/auth"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/stock"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/xid"
)

const priceHistoryLimit = 20

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.catalog.ListProducts(ctx)
}

// LowStock lists products at or under their minimum stock.
func (s *Service) LowStock(ctx context.Context) ([]domain.Product, error) {
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]domain.Product, 0)
	for _, p := range products {
		if stock.IsLow(p) {
			low = append(low, p)
		}
	}
	return low, nil
}

// SaveProduct creates or updates a product. A changed selling price is
// recorded in the product's price history, newest first.
func (s *Service) SaveProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	user, err := s.requireAdmin()
	if err != nil {
		return nil, err
	}

	product.Name = strings.TrimSpace(product.Name)
	product.Barcode = strings.TrimSpace(product.Barcode)
	product.Category = strings.TrimSpace(product.Category)
	if product.Name == "" {
		return nil, fmt.Errorf("%w: product name required", store.ErrInvalidRecord)
	}
	if product.SellingPrice.IsNegative() || product.CostPrice.IsNegative() || product.MinStock < 0 {
		return nil, fmt.Errorf("%w: prices and minimum stock must not be negative", store.ErrInvalidRecord)
	}
	if err := stock.ValidateUnits(product.Units); err != nil {
		return nil, err
	}
	product = stock.RecomputeQuantity(product)

	var existing *domain.Product
	if product.ID != "" {
		existing, err = s.catalog.GetProduct(ctx, product.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	priceChanged := false
	if existing != nil {
		product.PriceHistory = existing.PriceHistory
		if !existing.SellingPrice.Equal(product.SellingPrice) {
			priceChanged = true
			change := domain.PriceChange{
				ChangedAt: s.now().UTC(),
				OldPrice:  existing.SellingPrice,
				NewPrice:  product.SellingPrice,
				ChangedBy: user.Username,
			}
			product.PriceHistory = append([]domain.PriceChange{change}, product.PriceHistory...)
			if len(product.PriceHistory) > priceHistoryLimit {
				product.PriceHistory = product.PriceHistory[:priceHistoryLimit]
			}
		}
	}
	product.LastUpdated = s.now().UTC()

	saved, err := s.catalog.UpsertProduct(ctx, product)
	if err != nil {
		return nil, err
	}

	switch {
	case priceChanged:
		s.logAudit(ctx, domain.AuditPriceChange, domain.SeverityMedium, fmt.Sprintf("product=%s,old=%s,new=%s",
			saved.ID, existing.SellingPrice.StringFixed(2), saved.SellingPrice.StringFixed(2)))
	case existing == nil:
		s.logAudit(ctx, domain.AuditInventoryUpdate, domain.SeverityLow, fmt.Sprintf("product=%s,created,qty=%d", saved.ID, saved.Quantity))
	default:
		s.logAudit(ctx, domain.AuditInventoryUpdate, domain.SeverityLow, fmt.Sprintf("product=%s,qty=%d->%d", saved.ID, existing.Quantity, saved.Quantity))
	}
	return saved, nil
}

// AdjustStock applies a manual stock correction in base units.
func (s *Service) AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error) {
	if _, err := s.requireAdmin(); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, domain.ErrInvalidQuantity
	}
	updated, err := s.catalog.AdjustStock(store.WithAdjustmentKey(ctx, xid.New("adj")), productID, delta)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, domain.AuditInventoryUpdate, domain.SeverityMedium, fmt.Sprintf("product=%s,delta=%+d,qty=%d", productID, delta, updated.Quantity))
	return updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	if _, err := s.requireAdmin(); err != nil {
		return err
	}
	if err := s.catalog.DeleteProduct(ctx, productID); err != nil {
		return err
	}
	s.logAudit(ctx, domain.AuditDeleteProduct, domain.SeverityHigh, fmt.Sprintf("product=%s", productID))
	return nil
}

type NewUser struct {
	Name     string
	Username string
	PIN      string
	Role     string
}

// CreateUser registers a user with a hashed PIN. Weak PINs are refused.
func (s *Service) CreateUser(ctx context.Context, req NewUser) (*domain.User, error) {
	if _, err := s.requireAdmin(); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Name == "" || req.Username == "" {
		return nil, fmt.Errorf("%w: name and username required", store.ErrInvalidRecord)
	}
	if req.Role != domain.RoleAdmin && req.Role != domain.RoleCashier {
		return nil, fmt.Errorf("%w: unknown role %q", store.ErrInvalidRecord, req.Role)
	}
	if err := auth.ValidatePINStrength(req.PIN); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	hash, err := auth.HashPIN(req.PIN)
	if err != nil {
		return nil, err
	}

	saved, err := s.catalog.UpsertUser(ctx, domain.User{Name: req.Name, Username: req.Username, Role: req.Role, PINHash: hash})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, domain.AuditUserManagement, domain.SeverityMedium, fmt.Sprintf("created user=%s,role=%s", saved.Username, saved.Role))
	public := saved.Public()
	return &public, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := s.requireAdmin(); err != nil {
		return nil, err
	}
	users, err := s.catalog.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	return out, nil
}

func (s *Service) SetUserSuspended(ctx context.Context, userID string, suspended bool) (*domain.User, error) {
	admin, err := s.requireAdmin()
	if err != nil {
		return nil, err
	}
	if userID == admin.ID {
		return nil, fmt.Errorf("%w: cannot suspend yourself", domain.ErrForbidden)
	}
	updated, err := s.catalog.SetUserSuspended(ctx, userID, suspended)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, domain.AuditUserManagement, domain.SeverityHigh, fmt.Sprintf("user=%s,suspended=%t", updated.Username, suspended))
	public := updated.Public()
	return &public, nil
}

func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	admin, err := s.requireAdmin()
	if err != nil {
		return err
	}
	if userID == admin.ID {
		return fmt.Errorf("%w: cannot delete yourself", domain.ErrForbidden)
	}
	if err := s.catalog.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logAudit(ctx, domain.AuditUserManagement, domain.SeverityHigh, fmt.Sprintf("deleted user=%s", userID))
	return nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.catalog.ListCustomers(ctx)
}

func (s *Service) SaveCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if _, err := s.requireUser(); err != nil {
		return nil, err
	}
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	customer.Email = strings.TrimSpace(customer.Email)
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer name required", store.ErrInvalidRecord)
	}
	return s.catalog.UpsertCustomer(ctx, customer)
}

func (s *Service) Settings(ctx context.Context) (*domain.Settings, error) {
	return s.catalog.GetSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	if _, err := s.requireAdmin(); err != nil {
		return nil, err
	}
	if settings.TaxRate.IsNegative() || settings.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrInvalidRecord)
	}
	return s.catalog.UpdateSettings(ctx, settings)
}

// AuditLog returns up to limit entries, newest first.
func (s *Service) AuditLog(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if _, err := s.requireAdmin(); err != nil {
		return nil, err
	}
	entries, err := s.catalog.ListAuditEntries(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// CashierDailyStats summarizes today's real sales of one cashier. Training
// sales, refunds and refunded sales are left out.
func (s *Service) CashierDailyStats(ctx context.Context, cashierID string) (domain.CashierStats, error) {
	txs, err := s.catalog.ListTransactions(ctx)
	if err != nil {
		return domain.CashierStats{}, err
	}

	refunded := make(map[string]struct{})
	for _, tx := range txs {
		if tx.ReversalOf != "" {
			refunded[tx.ReversalOf] = struct{}{}
		}
	}

	now := s.now()
	y, m, d := now.Date()
	stats := domain.CashierStats{Total: decimal.Zero}
	for _, tx := range txs {
		if tx.CashierID != cashierID || tx.IsTraining || tx.Type == domain.TxTypeRefund {
			continue
		}
		if _, ok := refunded[tx.ID]; ok {
			continue
		}
		ty, tm, td := tx.CreatedAt.In(now.Location()).Date()
		if ty != y || tm != m || td != d {
			continue
		}
		stats.Count++
		stats.Total = stats.Total.Add(tx.Total)
		for _, line := range tx.Items {
			stats.ItemsScanned += line.Quantity
		}
	}
	return stats, nil
}
