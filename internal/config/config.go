package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	AppEnv         string
	LogLevel       string
	LogEncoding    string
	AllowedOrigin  string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	AuthSecret     string
	AccessTokenTTL time.Duration

	RemoteURL        string
	RemoteTimeout    time.Duration
	MirrorBackend    string
	MirrorDir        string
	SnapshotDebounce time.Duration
	TerminalID       string
}

// Load reads configuration from the environment. Values from envFiles (or
// ./.env when none are given) fill in variables that are not already set.
func Load(envFiles ...string) Config {
	_ = godotenv.Load(envFiles...)

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	remoteTimeout, err := strconv.Atoi(getEnv("REMOTE_TIMEOUT_MS", "3000"))
	if err != nil || remoteTimeout < 1 {
		remoteTimeout = 3000
	}
	debounce, err := strconv.Atoi(getEnv("CART_SNAPSHOT_DEBOUNCE_MS", "500"))
	if err != nil || debounce < 0 {
		debounce = 500
	}

	appEnv := strings.ToLower(getEnv("APP_ENV", "development"))
	encoding := "json"
	if appEnv == "development" {
		encoding = "console"
	}

	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		AppEnv:         appEnv,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogEncoding:    strings.ToLower(getEnv("LOG_ENCODING", encoding)),
		AllowedOrigin:  getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		AuthSecret:     strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTL: time.Duration(tokenTTL) * time.Minute,

		RemoteURL:        strings.TrimSpace(os.Getenv("REMOTE_URL")),
		RemoteTimeout:    time.Duration(remoteTimeout) * time.Millisecond,
		MirrorBackend:    strings.ToLower(getEnv("MIRROR_BACKEND", "file")),
		MirrorDir:        getEnv("MIRROR_DIR", "./data/mirror"),
		SnapshotDebounce: time.Duration(debounce) * time.Millisecond,
		TerminalID:       getEnv("TERMINAL_ID", "terminal-1"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
