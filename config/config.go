/*
Package config loads runtime configuration from the environment.

PURPOSE:
  All deployment-specific settings live in environment variables, with a
  .env file loaded first when present. Nothing here is required: every
  setting has a development default, and the external integrations
  (webhook, bank-watcher) simply disable themselves when unset.

VARIABLES:
  PORT                 HTTP port (default 8080)
  DB_PATH              SQLite path, ":memory:" allowed (default store.db)
  JWT_SECRET           HMAC secret for session cookies
  ADMIN_PASSWORD       Password for the admin panel login
  DISCORD_WEBHOOK_URL  Purchase webhook (empty = disabled)
  AOS_SERVER_URL       Bank-watcher base URL (empty = disabled)
  PUSHBULLET_TOKEN     Token forwarded to the bank-watcher
  BASE_URL             Public base URL, used for embed image links
  MIN_CHARGE_AMOUNT    Minimum top-up in minor units (default 10000)
  CHARGE_TTL           Pending charge lifetime (default 1h)
  SWEEP_INTERVAL       Expiry sweep cadence (default 10m)
  DEBUG                "true" for development logging
*/
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            int
	DBPath          string
	JWTSecret       string
	AdminPassword   string
	DiscordWebhook  string
	AOSServerURL    string
	PushbulletToken string
	BaseURL         string
	MinChargeAmount int64
	ChargeTTL       time.Duration
	SweepInterval   time.Duration
	Debug           bool
}

// Load reads .env (if present) and the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:            envInt("PORT", 8080),
		DBPath:          envStr("DB_PATH", "store.db"),
		JWTSecret:       envStr("JWT_SECRET", "dev-secret-change-me"),
		AdminPassword:   envStr("ADMIN_PASSWORD", ""),
		DiscordWebhook:  envStr("DISCORD_WEBHOOK_URL", ""),
		AOSServerURL:    envStr("AOS_SERVER_URL", ""),
		PushbulletToken: envStr("PUSHBULLET_TOKEN", ""),
		BaseURL:         envStr("BASE_URL", ""),
		MinChargeAmount: int64(envInt("MIN_CHARGE_AMOUNT", 10_000)),
		ChargeTTL:       envDuration("CHARGE_TTL", time.Hour),
		SweepInterval:   envDuration("SWEEP_INTERVAL", 10*time.Minute),
		Debug:           envStr("DEBUG", "") == "true",
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
