package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"shelfmaster/pos/internal/cache"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/gateway"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/store/mirror"
	"shelfmaster/pos/internal/store/remote"
)

const (
	adminPIN   = "1234"
	cashierPIN = "0000"
)

func testUsers(*zap.Logger) []domain.User {
	hash := func(pin string) string {
		h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		return string(h)
	}
	return []domain.User{
		{ID: "1", Name: "Admin User", Username: "admin", Role: domain.RoleAdmin, PINHash: hash(adminPIN)},
		{ID: "2", Name: "John Cashier", Username: "john", Role: domain.RoleCashier, PINHash: hash(cashierPIN)},
	}
}

func testSeed() mirror.Seed {
	seed := mirror.DefaultSeed()
	seed.Users = testUsers
	return seed
}

type harness struct {
	svc     *Service
	gw      *gateway.Gateway
	local   *mirror.Store
	backend *mirror.Store
}

// newHarness wires a service to a gateway whose remote side is either a
// reachable in-process catalog or an HTTP client with nowhere to go.
func newHarness(remoteUp bool, seed mirror.Seed) *harness {
	local := mirror.New(cache.NewMemoryKV(), seed, zap.NewNop())
	backend := mirror.New(cache.NewMemoryKV(), seed, zap.NewNop())

	var rem store.Catalog = backend
	if !remoteUp {
		rem = remote.New("", time.Second)
	}
	gw := gateway.New(rem, local)
	return &harness{
		svc:     New(gw, local, Options{TerminalID: "till-1"}),
		gw:      gw,
		local:   local,
		backend: backend,
	}
}

func newTestService(t *testing.T) *harness {
	t.Helper()
	h := newHarness(true, testSeed())
	t.Cleanup(h.svc.Close)
	return h
}

func (h *harness) login(t *testing.T, username, pin string) *domain.User {
	t.Helper()
	user, err := h.svc.Login(context.Background(), username, pin)
	if err != nil {
		t.Fatalf("login %s failed: %v", username, err)
	}
	return user
}

func (h *harness) product(t *testing.T, id string) domain.Product {
	t.Helper()
	p, err := h.svc.catalog.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return *p
}
