package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/store/mirror"
)

// Policy picks the source of truth for one collection.
type Policy int

const (
	// RemoteFirst tries the remote service and falls back to the mirror.
	RemoteFirst Policy = iota
	// LocalOnly never leaves the terminal.
	LocalOnly
	// RemoteOnly surfaces remote failures instead of falling back.
	RemoteOnly
)

// Gateway is the Catalog every other component calls through.
type Gateway struct {
	remote   store.Catalog
	local    *mirror.Store
	health   *Health
	policies map[store.Collection]Policy
	logger   *zap.Logger

	// creds belong to the signed-in user and live in memory only. They renew
	// the remote session after an offline login or an expired token.
	mu    sync.Mutex
	creds *credentials
}

type credentials struct {
	username string
	pin      string
}

var _ store.Catalog = (*Gateway)(nil)

type Option func(*Gateway)

func WithPolicy(c store.Collection, p Policy) Option {
	return func(g *Gateway) { g.policies[c] = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithHealth(h *Health) Option {
	return func(g *Gateway) {
		if h != nil {
			g.health = h
		}
	}
}

func New(remote store.Catalog, local *mirror.Store, opts ...Option) *Gateway {
	g := &Gateway{
		remote:   remote,
		local:    local,
		health:   NewHealth(),
		policies: make(map[store.Collection]Policy),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Status reports degraded mode and the number of writes waiting for resync.
func (g *Gateway) Status(ctx context.Context) Status {
	status := g.health.Snapshot()
	if pending, err := g.local.Pending(ctx); err == nil {
		status.PendingWrites = len(pending)
	}
	return status
}

func (g *Gateway) Degraded() bool {
	return g.health.Degraded()
}

func (g *Gateway) policy(c store.Collection) Policy {
	return g.policies[c]
}

func (g *Gateway) online() {
	if g.health.markOnline() {
		g.logger.Info("remote service reachable again, leaving degraded mode")
	}
}

func (g *Gateway) degrade(op string, err error) {
	if g.health.markDegraded(err) {
		g.logger.Warn("remote service unavailable, serving from local mirror",
			zap.String("op", op), zap.Error(err))
		return
	}
	g.logger.Debug("remote call failed while degraded", zap.String("op", op), zap.Error(err))
}

// fallsBack reports whether a failed remote call is served from the mirror.
// Any non-success qualifies except a domain rejection of the request itself.
func (g *Gateway) fallsBack(c store.Collection, err error) bool {
	return g.policy(c) != RemoteOnly && !store.IsRejection(err)
}

func (g *Gateway) remember(username string, pin string) {
	g.mu.Lock()
	g.creds = &credentials{username: username, pin: pin}
	g.mu.Unlock()
}

// Logout forgets the session credentials and the remote session token.
func (g *Gateway) Logout() {
	g.mu.Lock()
	g.creds = nil
	g.mu.Unlock()
	if tc, ok := g.remote.(interface{ SetToken(string) }); ok {
		tc.SetToken("")
	}
}

// renewSession logs in to the remote service again with the credentials of
// the signed-in user.
func (g *Gateway) renewSession(ctx context.Context) error {
	g.mu.Lock()
	creds := g.creds
	g.mu.Unlock()
	if creds == nil {
		return errors.New("no signed-in user to renew the remote session for")
	}
	if _, err := g.remote.Login(ctx, creds.username, creds.pin); err != nil {
		return err
	}
	g.logger.Info("remote session renewed", zap.String("username", creds.username))
	return nil
}

// callRemote runs call once more after renewing the session when the remote
// service refused the session token.
func callRemote[T any](ctx context.Context, g *Gateway, call func(context.Context) (T, error)) (T, error) {
	val, err := call(ctx)
	if err == nil || !errors.Is(err, store.ErrSessionRejected) {
		return val, err
	}
	if rerr := g.renewSession(ctx); rerr != nil {
		g.logger.Debug("remote session not renewed", zap.Error(rerr))
		return val, err
	}
	return call(ctx)
}

func (g *Gateway) hasPending(ctx context.Context, c store.Collection) bool {
	counts, err := g.local.PendingCollections(ctx)
	if err != nil {
		return true
	}
	return counts[c] > 0
}

// read serves from the remote service, refreshing the mirror copy unless the
// collection still has writes queued locally, and falls back to the mirror.
func read[T any](
	ctx context.Context,
	g *Gateway,
	c store.Collection,
	op string,
	remote func(context.Context) (T, error),
	local func(context.Context) (T, error),
	refresh func(context.Context, T) error,
) (T, error) {
	if g.policy(c) == LocalOnly {
		return local(ctx)
	}
	val, err := callRemote(ctx, g, remote)
	if err == nil {
		g.online()
		if refresh != nil && !g.hasPending(ctx, c) {
			if rerr := refresh(ctx, val); rerr != nil {
				g.logger.Warn("failed to refresh local mirror", zap.String("op", op), zap.Error(rerr))
			}
		}
		return val, nil
	}
	if !g.fallsBack(c, err) {
		return val, err
	}
	g.degrade(op, err)
	return local(ctx)
}

// write applies a mutation remotely and copies the accepted result into the
// mirror. When the remote side is unreachable the mutation is applied to the
// mirror instead and queued in the outbox for an explicit resync.
func write[T any](
	ctx context.Context,
	g *Gateway,
	c store.Collection,
	op string,
	remote func(context.Context) (T, error),
	local func(context.Context) (T, error),
	mirrorResult func(context.Context, T) error,
	payload func(T) any,
) (T, error) {
	if g.policy(c) == LocalOnly {
		return local(ctx)
	}
	val, err := callRemote(ctx, g, remote)
	if err == nil {
		g.online()
		if mirrorResult != nil {
			if merr := mirrorResult(ctx, val); merr != nil {
				g.logger.Warn("failed to copy remote write into local mirror", zap.String("op", op), zap.Error(merr))
			}
		}
		return val, nil
	}
	if !g.fallsBack(c, err) {
		return val, err
	}
	g.degrade(op, err)

	val, err = local(ctx)
	if err != nil {
		return val, err
	}
	if _, qerr := g.local.Enqueue(ctx, c, op, payload(val)); qerr != nil {
		g.logger.Error("failed to queue offline write", zap.String("op", op), zap.Error(qerr))
	}
	return val, nil
}

type idPayload struct {
	ID string `json:"id"`
}

type stockPayload struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
	Key       string `json:"key,omitempty"`
}

type shiftPatchPayload struct {
	ID    string            `json:"id"`
	Patch domain.ShiftPatch `json:"patch"`
}

type suspensionPayload struct {
	ID        string `json:"id"`
	Suspended bool   `json:"suspended"`
}

const (
	opUpsertProduct     = "upsert_product"
	opDeleteProduct     = "delete_product"
	opAdjustStock       = "adjust_stock"
	opCreateTransaction = "create_transaction"
	opCreateShift       = "create_shift"
	opUpdateShift       = "update_shift"
	opUpsertCustomer    = "upsert_customer"
	opUpsertUser        = "upsert_user"
	opDeleteUser        = "delete_user"
	opSetUserSuspended  = "set_user_suspended"
	opAppendAudit       = "append_audit"
	opUpdateSettings    = "update_settings"
)

func (g *Gateway) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return read(ctx, g, store.CollectionProducts, "list_products",
		g.remote.ListProducts,
		g.local.ListProducts,
		func(ctx context.Context, products []domain.Product) error {
			return g.local.Replace(ctx, store.CollectionProducts, products)
		})
}

func (g *Gateway) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return read(ctx, g, store.CollectionProducts, "get_product",
		func(ctx context.Context) (*domain.Product, error) { return g.remote.GetProduct(ctx, id) },
		func(ctx context.Context) (*domain.Product, error) { return g.local.GetProduct(ctx, id) },
		func(ctx context.Context, p *domain.Product) error {
			_, err := g.local.UpsertProduct(ctx, *p)
			return err
		})
}

func (g *Gateway) UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	return write(ctx, g, store.CollectionProducts, opUpsertProduct,
		func(ctx context.Context) (*domain.Product, error) { return g.remote.UpsertProduct(ctx, product) },
		func(ctx context.Context) (*domain.Product, error) { return g.local.UpsertProduct(ctx, product) },
		func(ctx context.Context, p *domain.Product) error {
			_, err := g.local.UpsertProduct(ctx, *p)
			return err
		},
		func(p *domain.Product) any { return p })
}

func (g *Gateway) DeleteProduct(ctx context.Context, id string) error {
	_, err := write(ctx, g, store.CollectionProducts, opDeleteProduct,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, g.remote.DeleteProduct(ctx, id) },
		func(ctx context.Context) (struct{}, error) { return struct{}{}, g.local.DeleteProduct(ctx, id) },
		func(ctx context.Context, _ struct{}) error { return ignoreNotFound(g.local.DeleteProduct(ctx, id)) },
		func(struct{}) any { return idPayload{ID: id} })
	return err
}

func (g *Gateway) AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error) {
	return write(ctx, g, store.CollectionProducts, opAdjustStock,
		func(ctx context.Context) (*domain.Product, error) { return g.remote.AdjustStock(ctx, productID, delta) },
		func(ctx context.Context) (*domain.Product, error) { return g.local.AdjustStock(ctx, productID, delta) },
		func(ctx context.Context, p *domain.Product) error {
			_, err := g.local.UpsertProduct(ctx, *p)
			return err
		},
		func(*domain.Product) any {
			return stockPayload{ProductID: productID, Delta: delta, Key: store.AdjustmentKey(ctx)}
		})
}

func (g *Gateway) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return read(ctx, g, store.CollectionTransactions, "list_transactions",
		g.remote.ListTransactions,
		g.local.ListTransactions,
		func(ctx context.Context, txs []domain.Transaction) error {
			return g.local.Replace(ctx, store.CollectionTransactions, txs)
		})
}

func (g *Gateway) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	return write(ctx, g, store.CollectionTransactions, opCreateTransaction,
		func(ctx context.Context) (*domain.Transaction, error) { return g.remote.CreateTransaction(ctx, tx) },
		func(ctx context.Context) (*domain.Transaction, error) { return g.local.CreateTransaction(ctx, tx) },
		func(ctx context.Context, saved *domain.Transaction) error {
			_, err := g.local.CreateTransaction(ctx, *saved)
			return err
		},
		func(saved *domain.Transaction) any { return saved })
}

func (g *Gateway) ListShifts(ctx context.Context) ([]domain.Shift, error) {
	return read(ctx, g, store.CollectionShifts, "list_shifts",
		g.remote.ListShifts,
		g.local.ListShifts,
		func(ctx context.Context, shifts []domain.Shift) error {
			return g.local.Replace(ctx, store.CollectionShifts, shifts)
		})
}

func (g *Gateway) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	return write(ctx, g, store.CollectionShifts, opCreateShift,
		func(ctx context.Context) (*domain.Shift, error) { return g.remote.CreateShift(ctx, shift) },
		func(ctx context.Context) (*domain.Shift, error) { return g.local.CreateShift(ctx, shift) },
		func(ctx context.Context, saved *domain.Shift) error { return g.local.PutShift(ctx, *saved) },
		func(saved *domain.Shift) any { return saved })
}

func (g *Gateway) UpdateShift(ctx context.Context, id string, patch domain.ShiftPatch) (*domain.Shift, error) {
	return write(ctx, g, store.CollectionShifts, opUpdateShift,
		func(ctx context.Context) (*domain.Shift, error) { return g.remote.UpdateShift(ctx, id, patch) },
		func(ctx context.Context) (*domain.Shift, error) { return g.local.UpdateShift(ctx, id, patch) },
		func(ctx context.Context, saved *domain.Shift) error { return g.local.PutShift(ctx, *saved) },
		func(*domain.Shift) any { return shiftPatchPayload{ID: id, Patch: patch} })
}

func (g *Gateway) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return read(ctx, g, store.CollectionCustomers, "list_customers",
		g.remote.ListCustomers,
		g.local.ListCustomers,
		func(ctx context.Context, customers []domain.Customer) error {
			return g.local.Replace(ctx, store.CollectionCustomers, customers)
		})
}

func (g *Gateway) UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	return write(ctx, g, store.CollectionCustomers, opUpsertCustomer,
		func(ctx context.Context) (*domain.Customer, error) { return g.remote.UpsertCustomer(ctx, customer) },
		func(ctx context.Context) (*domain.Customer, error) { return g.local.UpsertCustomer(ctx, customer) },
		func(ctx context.Context, saved *domain.Customer) error {
			_, err := g.local.UpsertCustomer(ctx, *saved)
			return err
		},
		func(saved *domain.Customer) any { return saved })
}

func (g *Gateway) ListUsers(ctx context.Context) ([]domain.User, error) {
	return read(ctx, g, store.CollectionUsers, "list_users",
		g.remote.ListUsers,
		g.local.ListUsers,
		func(ctx context.Context, users []domain.User) error {
			return g.local.Replace(ctx, store.CollectionUsers, users)
		})
}

func (g *Gateway) UpsertUser(ctx context.Context, user domain.User) (*domain.User, error) {
	return write(ctx, g, store.CollectionUsers, opUpsertUser,
		func(ctx context.Context) (*domain.User, error) { return g.remote.UpsertUser(ctx, user) },
		func(ctx context.Context) (*domain.User, error) { return g.local.UpsertUser(ctx, user) },
		func(ctx context.Context, saved *domain.User) error {
			mirrored := *saved
			if mirrored.PINHash == "" {
				mirrored.PINHash = user.PINHash
			}
			_, err := g.local.UpsertUser(ctx, mirrored)
			return err
		},
		func(saved *domain.User) any { return saved })
}

func (g *Gateway) DeleteUser(ctx context.Context, id string) error {
	_, err := write(ctx, g, store.CollectionUsers, opDeleteUser,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, g.remote.DeleteUser(ctx, id) },
		func(ctx context.Context) (struct{}, error) { return struct{}{}, g.local.DeleteUser(ctx, id) },
		func(ctx context.Context, _ struct{}) error { return ignoreNotFound(g.local.DeleteUser(ctx, id)) },
		func(struct{}) any { return idPayload{ID: id} })
	return err
}

func (g *Gateway) SetUserSuspended(ctx context.Context, id string, suspended bool) (*domain.User, error) {
	return write(ctx, g, store.CollectionUsers, opSetUserSuspended,
		func(ctx context.Context) (*domain.User, error) { return g.remote.SetUserSuspended(ctx, id, suspended) },
		func(ctx context.Context) (*domain.User, error) { return g.local.SetUserSuspended(ctx, id, suspended) },
		func(ctx context.Context, _ *domain.User) error {
			_, err := g.local.SetUserSuspended(ctx, id, suspended)
			return ignoreNotFound(err)
		},
		func(*domain.User) any { return suspensionPayload{ID: id, Suspended: suspended} })
}

// Login surfaces a refused PIN or suspended account from the remote service.
// Any other failure falls back to the mirror, which checks the PIN itself.
func (g *Gateway) Login(ctx context.Context, username string, pin string) (*domain.LoginResult, error) {
	var (
		res *domain.LoginResult
		err error
	)
	if g.policy(store.CollectionUsers) == LocalOnly {
		res, err = g.local.Login(ctx, username, pin)
	} else {
		res, err = g.remote.Login(ctx, username, pin)
		switch {
		case err == nil:
			g.online()
		case errors.Is(err, domain.ErrAuthFailure) || !g.fallsBack(store.CollectionUsers, err):
			return nil, err
		default:
			g.degrade("login", err)
			res, err = g.local.Login(ctx, username, pin)
		}
	}
	if err != nil {
		return nil, err
	}
	g.remember(username, pin)
	return res, nil
}

func (g *Gateway) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	_, err := write(ctx, g, store.CollectionAudit, opAppendAudit,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, g.remote.AppendAuditEntry(ctx, entry) },
		func(ctx context.Context) (struct{}, error) { return struct{}{}, g.local.AppendAuditEntry(ctx, entry) },
		func(ctx context.Context, _ struct{}) error { return g.local.AppendAuditEntry(ctx, entry) },
		func(struct{}) any { return entry })
	return err
}

func (g *Gateway) ListAuditEntries(ctx context.Context) ([]domain.AuditEntry, error) {
	return read(ctx, g, store.CollectionAudit, "list_audit_entries",
		g.remote.ListAuditEntries,
		g.local.ListAuditEntries,
		func(ctx context.Context, entries []domain.AuditEntry) error {
			return g.local.Replace(ctx, store.CollectionAudit, entries)
		})
}

func (g *Gateway) GetSettings(ctx context.Context) (*domain.Settings, error) {
	return read(ctx, g, store.CollectionSettings, "get_settings",
		g.remote.GetSettings,
		g.local.GetSettings,
		func(ctx context.Context, s *domain.Settings) error {
			return g.local.Replace(ctx, store.CollectionSettings, s)
		})
}

func (g *Gateway) UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	return write(ctx, g, store.CollectionSettings, opUpdateSettings,
		func(ctx context.Context) (*domain.Settings, error) { return g.remote.UpdateSettings(ctx, settings) },
		func(ctx context.Context) (*domain.Settings, error) { return g.local.UpdateSettings(ctx, settings) },
		func(ctx context.Context, saved *domain.Settings) error {
			return g.local.Replace(ctx, store.CollectionSettings, saved)
		},
		func(saved *domain.Settings) any { return saved })
}

func ignoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func unknownOp(op string) error {
	return fmt.Errorf("%w: unknown outbox op %q", store.ErrInvalidRecord, op)
}
