package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"shelfmaster/pos/internal/auth"
	"shelfmaster/pos/internal/cache"
	"shelfmaster/pos/internal/config"
	"shelfmaster/pos/internal/httpapi"
	"shelfmaster/pos/internal/logger"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/store/mirror"
	pgstore "shelfmaster/pos/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	catalog, closers, err := openCatalog(ctx, cfg, log)
	if err != nil {
		log.Fatal("catalog unavailable", zap.Error(err))
	}

	tokens := auth.NewTokenIssuer(cfg.AuthSecret, cfg.AccessTokenTTL)
	api := httpapi.New(catalog, tokens, cfg.AllowedOrigin, log.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("ledger listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("ledger stopped")
}

// openCatalog picks PostgreSQL when DATABASE_URL is set and otherwise serves
// a seeded mirror store over Redis or process memory.
func openCatalog(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Catalog, []func() error, error) {
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with a fallback store: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, closers, fmt.Errorf("migrate: %w", err)
		}
		if err := seedIfEmpty(ctx, pg, mirror.DefaultSeed(), log); err != nil {
			return nil, closers, fmt.Errorf("seed: %w", err)
		}
		log.Info("catalog: postgres")
		return pg, closers, nil
	}

	var kv cache.KV = cache.NewMemoryKV()
	backend := "memory"
	if cfg.RedisAddr != "" {
		redisKV := cache.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "ledger:")
		if err := redisKV.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-memory catalog", zap.Error(err))
		} else {
			kv = redisKV
			backend = "redis"
			closers = append(closers, redisKV.Close)
		}
	}
	log.Info("catalog: mirror store", zap.String("backend", backend))
	return mirror.New(kv, mirror.DefaultSeed(), log.Named("catalog")), closers, nil
}

// seedIfEmpty loads the demo catalog into a fresh database so a first
// terminal login works without manual setup.
func seedIfEmpty(ctx context.Context, catalog store.Catalog, seed mirror.Seed, log *zap.Logger) error {
	users, err := catalog.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	for _, p := range seed.Products {
		if _, err := catalog.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}
	for _, c := range seed.Customers {
		if _, err := catalog.UpsertCustomer(ctx, c); err != nil {
			return err
		}
	}
	if seed.Users != nil {
		for _, u := range seed.Users(log) {
			if _, err := catalog.UpsertUser(ctx, u); err != nil {
				return err
			}
		}
	}
	if _, err := catalog.UpdateSettings(ctx, seed.Settings); err != nil {
		return err
	}
	log.Info("seeded empty catalog", zap.Int("products", len(seed.Products)))
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must not be * in production")
	}
	if cfg.IsProduction() && (os.Getenv("SEED_ADMIN_PIN") == "" || os.Getenv("SEED_CASHIER_PIN") == "") {
		return fmt.Errorf("SEED_ADMIN_PIN and SEED_CASHIER_PIN must be set in production")
	}
	for _, key := range []string{"SEED_ADMIN_PIN", "SEED_CASHIER_PIN"} {
		if pin := os.Getenv(key); pin != "" {
			if err := auth.ValidatePINStrength(pin); err != nil {
				return fmt.Errorf("%s is too weak: %w", key, err)
			}
		}
	}
	return nil
}
