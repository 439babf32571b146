package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"shelfmaster/pos/internal/auth"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/stock"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/xid"
)

// Store is the authoritative Catalog/Ledger behind the ledger service.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func decodeDocs[T any](docs []types.JSONText) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func selectDocs[T any](ctx context.Context, s *Store, query string, args ...any) ([]T, error) {
	var docs []types.JSONText
	if err := s.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, err
	}
	return decodeDocs[T](docs)
}

func getDoc[T any](ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*T, error) {
	var doc types.JSONText
	if err := sqlx.GetContext(ctx, q, &doc, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var item T
	if err := json.Unmarshal(doc, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return selectDocs[domain.Product](ctx, s, `SELECT doc FROM products ORDER BY seq`)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := getDoc[domain.Product](ctx, s.db, `SELECT doc FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, fmt.Errorf("%w: product name required", store.ErrInvalidRecord)
	}
	if err := stock.ValidateUnits(product.Units); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product = stock.RecomputeQuantity(product)

	doc, err := json.Marshal(product)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, barcode, quantity, doc, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id)
		DO UPDATE SET barcode = EXCLUDED.barcode, quantity = EXCLUDED.quantity, doc = EXCLUDED.doc, updated_at = now()
	`, product.ID, product.Barcode, product.Quantity, types.JSONText(doc))
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res, "product", id)
}

// AdjustStock locks the product row so concurrent terminals never lose an update.
func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getDoc[domain.Product](ctx, tx, `SELECT doc FROM products WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", id, err)
	}
	if key := store.AdjustmentKey(ctx); key != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO stock_adjustments (key, product_id, delta) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING
		`, key, id, delta)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return current, tx.Commit()
		}
	}
	updated := stock.ApplyDelta(*current, delta)
	updated.LastUpdated = s.now().UTC()

	doc, err := json.Marshal(updated)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET quantity = $2, doc = $3, updated_at = now() WHERE id = $1
	`, id, updated.Quantity, types.JSONText(doc)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return selectDocs[domain.Transaction](ctx, s, `SELECT doc FROM transactions ORDER BY seq DESC`)
}

// CreateTransaction is idempotent on the transaction id so a replayed write
// from a terminal's outbox does not record the sale twice.
func (s *Store) CreateTransaction(ctx context.Context, t domain.Transaction) (*domain.Transaction, error) {
	if len(t.Items) == 0 {
		return nil, fmt.Errorf("%w: transaction has no lines", store.ErrInvalidRecord)
	}
	if t.ID == "" {
		t.ID = xid.New("tx")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}

	doc, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, reversal_of, created_at, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, t.ID, t.ReversalOf, t.CreatedAt, types.JSONText(doc))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyRefunded, t.ReversalOf)
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListShifts(ctx context.Context) ([]domain.Shift, error) {
	return selectDocs[domain.Shift](ctx, s, `SELECT doc FROM shifts ORDER BY seq DESC`)
}

// CreateShift relies on a partial unique index to keep one open shift per user.
func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.UserID == "" {
		return nil, fmt.Errorf("%w: shift user required", store.ErrInvalidRecord)
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}

	doc, err := json.Marshal(shift)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, user_id, is_open, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET user_id = EXCLUDED.user_id, is_open = EXCLUDED.is_open, doc = EXCLUDED.doc
	`, shift.ID, shift.UserID, shift.IsOpen(), types.JSONText(doc))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user %s", domain.ErrDuplicateActiveShift, shift.UserID)
		}
		return nil, err
	}
	return &shift, nil
}

// UpdateShift applies patch under a row lock. A closed shift accepts no
// further changes, which is how a second close of the same shift is refused.
func (s *Store) UpdateShift(ctx context.Context, id string, patch domain.ShiftPatch) (*domain.Shift, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getDoc[domain.Shift](ctx, tx, `SELECT doc FROM shifts WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("shift %s: %w", id, err)
	}
	if !current.IsOpen() {
		return nil, fmt.Errorf("%w: %s", domain.ErrStaleShiftClose, id)
	}
	updated := patch.Apply(*current)

	doc, err := json.Marshal(updated)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE shifts SET is_open = $2, doc = $3 WHERE id = $1
	`, id, updated.IsOpen(), types.JSONText(doc)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return selectDocs[domain.Customer](ctx, s, `SELECT doc FROM customers ORDER BY seq`)
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, fmt.Errorf("%w: customer name required", store.ErrInvalidRecord)
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	doc, err := json.Marshal(customer)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, customer.ID, types.JSONText(doc)); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	return selectDocs[domain.User](ctx, s, `SELECT doc FROM users ORDER BY seq`)
}

// UpsertUser keeps the stored PIN hash when the incoming user carries none.
func (s *Store) UpsertUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" {
		return nil, fmt.Errorf("%w: username required", store.ErrInvalidRecord)
	}
	if user.Role != domain.RoleAdmin && user.Role != domain.RoleCashier {
		return nil, fmt.Errorf("%w: unknown role %q", store.ErrInvalidRecord, user.Role)
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.PINHash == "" {
		existing, err := getDoc[domain.User](ctx, s.db, `SELECT doc FROM users WHERE id = $1`, user.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if existing == nil || existing.PINHash == "" {
			return nil, fmt.Errorf("%w: PIN required", store.ErrInvalidRecord)
		}
		user.PINHash = existing.PINHash
	}

	doc, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, doc = EXCLUDED.doc
	`, user.ID, user.Username, types.JSONText(doc))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username %s already exists", store.ErrInvalidRecord, user.Username)
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res, "user", id)
}

func (s *Store) SetUserSuspended(ctx context.Context, id string, suspended bool) (*domain.User, error) {
	var doc types.JSONText
	err := s.db.GetContext(ctx, &doc, `
		UPDATE users SET doc = jsonb_set(doc, '{is_suspended}', to_jsonb($2::boolean))
		WHERE id = $1
		RETURNING doc
	`, id, suspended)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	var user domain.User
	if err := json.Unmarshal(doc, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) Login(ctx context.Context, username string, pin string) (*domain.LoginResult, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	user, err := auth.Authenticate(users, username, pin)
	if err != nil {
		return nil, err
	}
	return &domain.LoginResult{User: user.Public()}, nil
}

func (s *Store) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.At.IsZero() {
		entry.At = s.now().UTC()
	}
	doc, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, at, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.At, types.JSONText(doc))
	return err
}

func (s *Store) ListAuditEntries(ctx context.Context) ([]domain.AuditEntry, error) {
	return selectDocs[domain.AuditEntry](ctx, s, `SELECT doc FROM audit_entries ORDER BY at DESC, seq DESC`)
}

func (s *Store) GetSettings(ctx context.Context) (*domain.Settings, error) {
	settings, err := getDoc[domain.Settings](ctx, s.db, `SELECT doc FROM settings WHERE id = 1`)
	if errors.Is(err, store.ErrNotFound) {
		return &domain.Settings{}, nil
	}
	return settings, err
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	if settings.TaxRate.IsNegative() {
		return nil, fmt.Errorf("%w: tax rate must not be negative", store.ErrInvalidRecord)
	}
	doc, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, doc) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, types.JSONText(doc)); err != nil {
		return nil, err
	}
	return &settings, nil
}

func expectAffected(res sql.Result, kind string, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, kind, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
