package main

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"shelfmaster/pos/internal/cache"
	"shelfmaster/pos/internal/config"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/store/mirror"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	t.Setenv("SEED_ADMIN_PIN", "")
	t.Setenv("SEED_CASHIER_PIN", "")

	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected short AUTH_SECRET to be rejected")
	}

	t.Setenv("SEED_ADMIN_PIN", "1111")
	if err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"}); err == nil {
		t.Fatalf("expected weak seed PIN to be rejected")
	}
}

func TestValidateSecurityConfigProductionRules(t *testing.T) {
	t.Setenv("SEED_ADMIN_PIN", "")
	t.Setenv("SEED_CASHIER_PIN", "")
	cfg := config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AppEnv: "production", AllowedOrigin: "https://pos.example.com"}

	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected production without seed PINs to be rejected")
	}

	t.Setenv("SEED_ADMIN_PIN", "739154")
	t.Setenv("SEED_CASHIER_PIN", "4821")
	if err := validateSecurityConfig(cfg); err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}

	cfg.AllowedOrigin = "*"
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected wildcard origin to be rejected in production")
	}
}

func TestSeedIfEmptyRunsOnce(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("4821"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	empty := mirror.Seed{Users: func(*zap.Logger) []domain.User { return nil }}
	target := mirror.New(cache.NewMemoryKV(), empty, zap.NewNop())

	seed := mirror.DefaultSeed()
	seed.Users = func(*zap.Logger) []domain.User {
		return []domain.User{{ID: "1", Name: "Admin", Username: "admin", Role: domain.RoleAdmin, PINHash: string(hash)}}
	}

	if err := seedIfEmpty(ctx, target, seed, zap.NewNop()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	products, err := target.ListProducts(ctx)
	if err != nil || len(products) != len(seed.Products) {
		t.Fatalf("expected %d seeded products, got %d (%v)", len(seed.Products), len(products), err)
	}

	if _, err := target.UpsertProduct(ctx, domain.Product{Name: "Added Later"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := seedIfEmpty(ctx, target, seed, zap.NewNop()); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	products, _ = target.ListProducts(ctx)
	if len(products) != len(seed.Products)+1 {
		t.Fatalf("second seed must be a no-op, got %d products", len(products))
	}
}

func TestOpenCatalogFallsBackToMemory(t *testing.T) {
	catalog, closers, err := openCatalog(context.Background(), config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	if len(closers) != 0 {
		t.Fatalf("memory catalog needs no closers, got %d", len(closers))
	}
	if _, err := catalog.ListProducts(context.Background()); err != nil {
		t.Fatalf("list products: %v", err)
	}
}
