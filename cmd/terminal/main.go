package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"shelfmaster/pos/internal/cache"
	"shelfmaster/pos/internal/config"
	"shelfmaster/pos/internal/gateway"
	"shelfmaster/pos/internal/logger"
	"shelfmaster/pos/internal/service"
	"shelfmaster/pos/internal/store/mirror"
	"shelfmaster/pos/internal/store/remote"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := openMirrorKV(ctx, cfg, log)
	if err != nil {
		log.Fatal("mirror unavailable", zap.Error(err))
	}
	if closeKV != nil {
		defer func() { _ = closeKV() }()
	}

	local := mirror.New(kv, mirror.DefaultSeed(), log.Named("mirror"))
	gw := gateway.New(remote.New(cfg.RemoteURL, cfg.RemoteTimeout), local, gateway.WithLogger(log.Named("gateway")))
	svc := service.New(gw, local, service.Options{
		TerminalID:       cfg.TerminalID,
		SnapshotDebounce: cfg.SnapshotDebounce,
		Logger:           log.Named("service"),
	})
	defer svc.Close()

	if cfg.RemoteURL == "" {
		log.Warn("REMOTE_URL not set, terminal runs on its local mirror only")
	}
	log.Info("terminal ready", zap.String("terminal_id", cfg.TerminalID), zap.String("mirror", cfg.MirrorBackend))

	sh := &shell{svc: svc, out: os.Stdout}
	if err := sh.run(ctx, os.Stdin); err != nil {
		log.Error("console stopped", zap.Error(err))
	}
}

// openMirrorKV picks the key-value backend behind the local mirror. Redis
// keys are prefixed per terminal so tills sharing one server keep separate carts.
func openMirrorKV(ctx context.Context, cfg config.Config, log *zap.Logger) (cache.KV, func() error, error) {
	switch cfg.MirrorBackend {
	case "memory":
		return cache.NewMemoryKV(), nil, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("MIRROR_BACKEND=redis needs REDIS_ADDR")
		}
		kv := cache.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "terminal:"+cfg.TerminalID+":")
		if err := kv.Ping(ctx); err != nil {
			_ = kv.Close()
			return nil, nil, fmt.Errorf("redis mirror: %w", err)
		}
		return kv, kv.Close, nil
	case "file", "":
		kv, err := cache.NewFileKV(cfg.MirrorDir)
		if err != nil {
			return nil, nil, err
		}
		log.Debug("file mirror", zap.String("dir", cfg.MirrorDir))
		return kv, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown MIRROR_BACKEND %q", cfg.MirrorBackend)
	}
}
