package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"shelfmaster/pos/internal/auth"
	"shelfmaster/pos/internal/cache"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/stock"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/xid"
)

// appliedKeysLimit bounds how many adjustment keys are remembered.
const appliedKeysLimit = 1024

const (
	keyApplied = "mirror:stock_keys"
	keyOutbox  = "mirror:outbox"
	keyCart   = "session:cart"
	keyParked = "session:parked"
)

// Store is the local durable mirror. Each collection is one JSON document in
// the KV, seeded from bundled defaults the first time it is read empty.
type Store struct {
	mu     sync.Mutex
	kv     cache.KV
	seed   Seed
	logger *zap.Logger
	now    func() time.Time
}

func New(kv cache.KV, seed Seed, logger *zap.Logger) *Store {
	if kv == nil {
		kv = cache.NewMemoryKV()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, seed: seed, logger: logger, now: time.Now}
}

func collectionKey(c store.Collection) string {
	return "mirror:" + string(c)
}

// load reads a JSON document. The caller holds s.mu.
func load[T any](ctx context.Context, s *Store, key string, seed func() T) (T, error) {
	var out T
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return out, fmt.Errorf("mirror read %s: %w", key, err)
	}
	if !ok {
		if seed == nil {
			return out, nil
		}
		out = seed()
		if err := save(ctx, s, key, out); err != nil {
			return out, err
		}
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("mirror decode %s: %w", key, err)
	}
	return out, nil
}

func save[T any](ctx context.Context, s *Store, key string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, payload); err != nil {
		return fmt.Errorf("mirror write %s: %w", key, err)
	}
	return nil
}

// upsertByID replaces the element with the same id or, for a new id, adds it
// at the front when newestFirst is set and at the back otherwise.
func upsertByID[T any](items []T, item T, id func(T) string, newestFirst bool) []T {
	key := id(item)
	for i := range items {
		if id(items[i]) == key {
			items[i] = item
			return items
		}
	}
	if newestFirst {
		return append([]T{item}, items...)
	}
	return append(items, item)
}

func indexByID[T any](items []T, key string, id func(T) string) int {
	for i := range items {
		if id(items[i]) == key {
			return i
		}
	}
	return -1
}

func productID(p domain.Product) string         { return p.ID }
func transactionID(t domain.Transaction) string { return t.ID }
func shiftID(s domain.Shift) string             { return s.ID }
func customerID(c domain.Customer) string       { return c.ID }
func userID(u domain.User) string               { return u.ID }
func auditID(a domain.AuditEntry) string        { return a.ID }
func parkedID(p domain.ParkedCart) string       { return p.ID }

func (s *Store) seedProducts() []domain.Product {
	return cloneProducts(s.seed.Products)
}

func (s *Store) seedCustomers() []domain.Customer {
	out := make([]domain.Customer, len(s.seed.Customers))
	copy(out, s.seed.Customers)
	return out
}

func (s *Store) seedUsers() []domain.User {
	if s.seed.Users == nil {
		return []domain.User{}
	}
	return s.seed.Users(s.logger)
}

func (s *Store) seedSettings() domain.Settings {
	return s.seed.Settings
}

func (s *Store) products(ctx context.Context) ([]domain.Product, error) {
	return load(ctx, s, collectionKey(store.CollectionProducts), s.seedProducts)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products(ctx)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	products, err := s.products(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexByID(products, id, productID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	return &products[idx], nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, fmt.Errorf("%w: product name required", store.ErrInvalidRecord)
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product = stock.RecomputeQuantity(product)

	s.mu.Lock()
	defer s.mu.Unlock()
	products, err := s.products(ctx)
	if err != nil {
		return nil, err
	}
	products = upsertByID(products, product, productID, false)
	if err := save(ctx, s, collectionKey(store.CollectionProducts), products); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	products, err := s.products(ctx)
	if err != nil {
		return err
	}
	idx := indexByID(products, id, productID)
	if idx < 0 {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	products = slices.Delete(products, idx, idx+1)
	return save(ctx, s, collectionKey(store.CollectionProducts), products)
}

func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	products, err := s.products(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexByID(products, id, productID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}

	key := store.AdjustmentKey(ctx)
	var applied []string
	if key != "" {
		applied, err = load[[]string](ctx, s, keyApplied, nil)
		if err != nil {
			return nil, err
		}
		if slices.Contains(applied, key) {
			current := products[idx]
			return &current, nil
		}
	}

	updated := stock.ApplyDelta(products[idx], delta)
	updated.LastUpdated = s.now().UTC()
	products[idx] = updated
	if err := save(ctx, s, collectionKey(store.CollectionProducts), products); err != nil {
		return nil, err
	}
	if key != "" {
		applied = append(applied, key)
		if len(applied) > appliedKeysLimit {
			applied = applied[len(applied)-appliedKeysLimit:]
		}
		if err := save(ctx, s, keyApplied, applied); err != nil {
			return nil, err
		}
	}
	return &updated, nil
}

func (s *Store) transactions(ctx context.Context) ([]domain.Transaction, error) {
	return load[[]domain.Transaction](ctx, s, collectionKey(store.CollectionTransactions), func() []domain.Transaction {
		return []domain.Transaction{}
	})
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactions(ctx)
}

// CreateTransaction records tx newest first. Re-recording an id replaces it,
// which keeps write-through and resync idempotent.
func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 {
		return nil, fmt.Errorf("%w: transaction has no lines", store.ErrInvalidRecord)
	}
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	txs, err := s.transactions(ctx)
	if err != nil {
		return nil, err
	}
	if tx.ReversalOf != "" {
		for _, existing := range txs {
			if existing.ReversalOf == tx.ReversalOf && existing.ID != tx.ID {
				return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyRefunded, tx.ReversalOf)
			}
		}
	}
	txs = upsertByID(txs, tx, transactionID, true)
	if err := save(ctx, s, collectionKey(store.CollectionTransactions), txs); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) shifts(ctx context.Context) ([]domain.Shift, error) {
	return load[[]domain.Shift](ctx, s, collectionKey(store.CollectionShifts), func() []domain.Shift {
		return []domain.Shift{}
	})
}

func (s *Store) ListShifts(ctx context.Context) ([]domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shifts(ctx)
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.UserID == "" {
		return nil, fmt.Errorf("%w: shift user required", store.ErrInvalidRecord)
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	shifts, err := s.shifts(ctx)
	if err != nil {
		return nil, err
	}
	if shift.IsOpen() {
		for _, existing := range shifts {
			if existing.UserID == shift.UserID && existing.IsOpen() && existing.ID != shift.ID {
				return nil, fmt.Errorf("%w: user %s", domain.ErrDuplicateActiveShift, shift.UserID)
			}
		}
	}
	shifts = upsertByID(shifts, shift, shiftID, true)
	if err := save(ctx, s, collectionKey(store.CollectionShifts), shifts); err != nil {
		return nil, err
	}
	return &shift, nil
}

// PutShift stores a shift as-is, for copies of records the remote service accepted.
func (s *Store) PutShift(ctx context.Context, shift domain.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shifts, err := s.shifts(ctx)
	if err != nil {
		return err
	}
	shifts = upsertByID(shifts, shift, shiftID, true)
	return save(ctx, s, collectionKey(store.CollectionShifts), shifts)
}

// UpdateShift applies patch. A closed shift accepts no further changes.
func (s *Store) UpdateShift(ctx context.Context, id string, patch domain.ShiftPatch) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shifts, err := s.shifts(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexByID(shifts, id, shiftID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, id)
	}
	if !shifts[idx].IsOpen() {
		return nil, fmt.Errorf("%w: %s", domain.ErrStaleShiftClose, id)
	}
	updated := patch.Apply(shifts[idx])
	shifts[idx] = updated
	if err := save(ctx, s, collectionKey(store.CollectionShifts), shifts); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) customers(ctx context.Context) ([]domain.Customer, error) {
	return load(ctx, s, collectionKey(store.CollectionCustomers), s.seedCustomers)
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customers(ctx)
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, fmt.Errorf("%w: customer name required", store.ErrInvalidRecord)
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	customers, err := s.customers(ctx)
	if err != nil {
		return nil, err
	}
	customers = upsertByID(customers, customer, customerID, false)
	if err := save(ctx, s, collectionKey(store.CollectionCustomers), customers); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) users(ctx context.Context) ([]domain.User, error) {
	return load(ctx, s, collectionKey(store.CollectionUsers), s.seedUsers)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users(ctx)
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

	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.users(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range users {
		if existing.ID == user.ID && user.PINHash == "" {
			user.PINHash = existing.PINHash
		}
		if existing.ID != user.ID && existing.Username == user.Username {
			return nil, fmt.Errorf("%w: username %s already exists", store.ErrInvalidRecord, user.Username)
		}
	}
	if user.PINHash == "" {
		return nil, fmt.Errorf("%w: PIN required", store.ErrInvalidRecord)
	}
	users = upsertByID(users, user, userID, false)
	if err := save(ctx, s, collectionKey(store.CollectionUsers), users); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.users(ctx)
	if err != nil {
		return err
	}
	idx := indexByID(users, id, userID)
	if idx < 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, id)
	}
	users = slices.Delete(users, idx, idx+1)
	return save(ctx, s, collectionKey(store.CollectionUsers), users)
}

func (s *Store) SetUserSuspended(ctx context.Context, id string, suspended bool) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.users(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexByID(users, id, userID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, id)
	}
	users[idx].IsSuspended = suspended
	if err := save(ctx, s, collectionKey(store.CollectionUsers), users); err != nil {
		return nil, err
	}
	updated := users[idx]
	return &updated, nil
}

// Login checks the PIN against the mirrored users. The session token it
// returns is only meaningful to this terminal.
func (s *Store) Login(ctx context.Context, username string, pin string) (*domain.LoginResult, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	user, err := auth.Authenticate(users, username, pin)
	if err != nil {
		return nil, err
	}
	return &domain.LoginResult{User: user.Public(), SessionToken: xid.New("offline")}, nil
}

func (s *Store) audit(ctx context.Context) ([]domain.AuditEntry, error) {
	return load[[]domain.AuditEntry](ctx, s, collectionKey(store.CollectionAudit), func() []domain.AuditEntry {
		return []domain.AuditEntry{}
	})
}

func (s *Store) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.At.IsZero() {
		entry.At = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.audit(ctx)
	if err != nil {
		return err
	}
	entries = upsertByID(entries, entry, auditID, true)
	return save(ctx, s, collectionKey(store.CollectionAudit), entries)
}

func (s *Store) ListAuditEntries(ctx context.Context) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audit(ctx)
}

func (s *Store) GetSettings(ctx context.Context) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := load(ctx, s, collectionKey(store.CollectionSettings), s.seedSettings)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	if settings.TaxRate.IsNegative() {
		return nil, fmt.Errorf("%w: tax rate must not be negative", store.ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := save(ctx, s, collectionKey(store.CollectionSettings), settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Replace overwrites a whole collection with items, typically a fresh remote listing.
func (s *Store) Replace(ctx context.Context, c store.Collection, items any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return save(ctx, s, collectionKey(c), items)
}

func cloneProducts(src []domain.Product) []domain.Product {
	out := make([]domain.Product, len(src))
	for i, p := range src {
		dup := p
		dup.Batches = slices.Clone(p.Batches)
		dup.Units = slices.Clone(p.Units)
		dup.PriceHistory = slices.Clone(p.PriceHistory)
		out[i] = dup
	}
	return out
}
