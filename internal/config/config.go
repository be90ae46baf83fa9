package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/ledger"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	Timezone              string
	Location              *time.Location
	LotPolicy             ledger.Policy
	LockTTL               time.Duration
	LockWait              time.Duration
	ReportCacheTTL        time.Duration
	SeedAdminPassword     string
	SeedCashierPassword   string
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Values already exported win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		Timezone:              getEnv("TIMEZONE", "Asia/Jakarta"),
		LockTTL:               time.Duration(positiveInt("LOCK_TTL_SECONDS", 30)) * time.Second,
		LockWait:              time.Duration(positiveInt("LOCK_WAIT_SECONDS", 5)) * time.Second,
		ReportCacheTTL:        time.Duration(positiveInt("REPORT_CACHE_TTL_SECONDS", 30)) * time.Second,
		SeedAdminPassword:     strings.TrimSpace(os.Getenv("SEED_ADMIN_PASSWORD")),
		SeedCashierPassword:   strings.TrimSpace(os.Getenv("SEED_CASHIER_PASSWORD")),
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	policy, err := ledger.ParsePolicy(os.Getenv("LOT_POLICY"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LOT_POLICY: %w", err)
	}
	cfg.LotPolicy = policy

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// NewLogger returns a JSON logger at the given level. Unknown levels fall back
// to info.
func NewLogger(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if out == nil {
		out = os.Stdout
	}
	logger.SetOutput(out)

	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
