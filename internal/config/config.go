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
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	DatabaseMigrate       bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StatusCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string

	// Bootstrap accounts created on a fresh database. Empty means skip.
	SeedAdminPassword   string
	SeedCashierPassword string

	Gateway GatewayConfig

	KafkaBrokers []string
	KafkaTopic   string
}

type GatewayConfig struct {
	BaseURL        string
	ClientID       string
	APIKey         string
	ChecksumKey    string
	ReturnURL      string
	CancelURL      string
	TimeoutSeconds int
}

// Load reads the environment. A .env file in the working directory is
// loaded first; variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL := getEnvInt("STATUS_CACHE_TTL_SECONDS", 5, 0)
	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1)
	gatewayTimeout := getEnvInt("GATEWAY_TIMEOUT_SECONDS", 15, 1)
	migrate, err := strconv.ParseBool(getEnv("DATABASE_MIGRATE", "true"))
	if err != nil {
		migrate = true
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DatabaseMigrate:       migrate,
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StatusCacheTTLSeconds: cacheTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		SeedAdminPassword:     os.Getenv("SEED_ADMIN_PASSWORD"),
		SeedCashierPassword:   os.Getenv("SEED_CASHIER_PASSWORD"),
		Gateway: GatewayConfig{
			BaseURL:        getEnv("GATEWAY_BASE_URL", "https://api-merchant.payos.vn"),
			ClientID:       strings.TrimSpace(os.Getenv("GATEWAY_CLIENT_ID")),
			APIKey:         strings.TrimSpace(os.Getenv("GATEWAY_API_KEY")),
			ChecksumKey:    strings.TrimSpace(os.Getenv("GATEWAY_CHECKSUM_KEY")),
			ReturnURL:      getEnv("GATEWAY_RETURN_URL", "http://127.0.0.1:3000/payment/success"),
			CancelURL:      getEnv("GATEWAY_CANCEL_URL", "http://127.0.0.1:3000/payment/cancel"),
			TimeoutSeconds: gatewayTimeout,
		},
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "settlement.events"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) StatusCacheTTL() time.Duration {
	return time.Duration(c.StatusCacheTTLSeconds) * time.Second
}

func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// Live reports whether provider credentials are configured.
func (g GatewayConfig) Live() bool {
	return g.ClientID != "" && g.APIKey != "" && g.ChecksumKey != ""
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < min {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
