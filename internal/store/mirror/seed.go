package mirror

import (
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shelfmaster/pos/internal/auth"
	"shelfmaster/pos/internal/domain"
)

// Seed is the bundled data a collection starts from the first time it is read empty.
type Seed struct {
	Products  []domain.Product
	Customers []domain.Customer
	Settings  domain.Settings
	// Users is called lazily because hashing seed PINs is deliberately slow.
	Users func(logger *zap.Logger) []domain.User
}

// DefaultSeed is the demo catalog shipped with every terminal.
func DefaultSeed() Seed {
	now := time.Now().UTC()
	product := func(id, name, barcode, category string, cost, price int64, qty, minStock int) domain.Product {
		return domain.Product{
			ID:           id,
			Name:         name,
			Barcode:      barcode,
			Category:     category,
			CostPrice:    decimal.NewFromInt(cost),
			SellingPrice: decimal.NewFromInt(price),
			Quantity:     qty,
			MinStock:     minStock,
			LastUpdated:  now,
		}
	}

	return Seed{
		Products: []domain.Product{
			product("101", "Coca Cola 50cl", "5449000000996", "Beverages", 150, 250, 100, 20),
			product("102", "Gala Sausage Roll", "978020137962", "Snacks", 80, 150, 50, 10),
			product("103", "Dangote Sugar 1kg", "615110000001", "Groceries", 900, 1200, 30, 5),
			product("104", "Peak Milk Powder", "871200000000", "Groceries", 2200, 2600, 15, 5),
		},
		Settings: domain.Settings{
			StoreName:     "ShelfMaster Demo Store",
			Address:       "12 Victoria Island, Lagos",
			Phone:         "+234 800 123 4567",
			Currency:      "NGN",
			TaxRate:       decimal.RequireFromString("7.5"),
			ReceiptFooter: "Thank you for your patronage!",
		},
		Users: seedUsers,
	}
}

// seedUsers builds the demo accounts. PINs come from SEED_ADMIN_PIN and
// SEED_CASHIER_PIN; the dev defaults are used with a warning when unset.
func seedUsers(logger *zap.Logger) []domain.User {
	adminPIN := envOr("SEED_ADMIN_PIN", "1234")
	cashierPIN := envOr("SEED_CASHIER_PIN", "0000")
	if os.Getenv("SEED_ADMIN_PIN") == "" || os.Getenv("SEED_CASHIER_PIN") == "" {
		logger.Warn("using default demo PINs; set SEED_ADMIN_PIN and SEED_CASHIER_PIN to override")
	}

	users := make([]domain.User, 0, 2)
	for _, u := range []struct {
		id       string
		name     string
		username string
		pin      string
		role     string
	}{
		{"1", "Admin User", "admin", adminPIN, domain.RoleAdmin},
		{"2", "John Cashier", "john", cashierPIN, domain.RoleCashier},
	} {
		hash, err := auth.HashPIN(u.pin)
		if err != nil {
			logger.Error("failed to hash seed PIN", zap.String("username", u.username), zap.Error(err))
			continue
		}
		users = append(users, domain.User{
			ID:       u.id,
			Name:     u.name,
			Username: u.username,
			Role:     u.role,
			PINHash:  hash,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
