package store

import (
	"context"
	"errors"

	"shelfmaster/pos/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid record")
	// ErrUnavailable marks a remote call that failed in transport or with a
	// server-side error. The gateway absorbs it by falling back to the mirror.
	ErrUnavailable = errors.New("persistence unavailable")
	// ErrSessionRejected marks a call the remote service refused because the
	// terminal's session token is missing or expired.
	ErrSessionRejected = errors.New("remote session rejected")
)

type adjustmentKey struct{}

// WithAdjustmentKey tags a stock adjustment so the ledger applies it at most
// once however many times it is delivered.
func WithAdjustmentKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, adjustmentKey{}, key)
}

// AdjustmentKey returns the key set by WithAdjustmentKey, or "".
func AdjustmentKey(ctx context.Context) string {
	key, _ := ctx.Value(adjustmentKey{}).(string)
	return key
}

type ProductStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	// AdjustStock adds delta base units to one product as a single unit of work.
	// A delta carrying an AdjustmentKey already applied leaves stock unchanged.
	AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error)
}

type TransactionStore interface {
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
}

type ShiftStore interface {
	ListShifts(ctx context.Context) ([]domain.Shift, error)
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	UpdateShift(ctx context.Context, id string, patch domain.ShiftPatch) (*domain.Shift, error)
}

type CustomerStore interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
}

type UserStore interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpsertUser(ctx context.Context, user domain.User) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
	SetUserSuspended(ctx context.Context, id string, suspended bool) (*domain.User, error)
	Login(ctx context.Context, username string, pin string) (*domain.LoginResult, error)
}

type AuditStore interface {
	AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error
	ListAuditEntries(ctx context.Context) ([]domain.AuditEntry, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context) (*domain.Settings, error)
	UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error)
}

// Catalog is the full Catalog/Ledger contract. The remote client, the local
// mirror, the PostgreSQL store and the gateway all implement it.
type Catalog interface {
	ProductStore
	TransactionStore
	ShiftStore
	CustomerStore
	UserStore
	AuditStore
	SettingsStore
}

// Collection names one entity collection of the catalog.
type Collection string

const (
	CollectionProducts     Collection = "products"
	CollectionTransactions Collection = "transactions"
	CollectionShifts       Collection = "shifts"
	CollectionCustomers    Collection = "customers"
	CollectionUsers        Collection = "users"
	CollectionAudit        Collection = "audit"
	CollectionSettings     Collection = "settings"
)
