/*
Package config loads server configuration from the environment.

PURPOSE:
  One Load() call produces everything main needs. A .env file in the
  working directory is read first (development convenience); real
  environment variables win over it.

VARIABLES:
  PORT          HTTP server port (default: 8080)
  DB_PATH       SQLite database path (default: attendance.db)
                Use ":memory:" for an in-memory database
  JWT_SECRET    HMAC secret for bearer-token verification (required)
  ADMIN_EMAILS  Comma-separated emails granted the admin role on sign-in

SEE ALSO:
  - cmd/server/main.go: the only consumer
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the server's runtime settings.
type Config struct {
	Port        int
	DBPath      string
	JWTSecret   string
	AdminEmails []string
}

// Load reads .env (if present) and the environment. JWT_SECRET is the
// only hard requirement.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg := &Config{
		Port:      8080,
		DBPath:    "attendance.db",
		JWTSecret: os.Getenv("JWT_SECRET"),
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	for _, email := range strings.Split(os.Getenv("ADMIN_EMAILS"), ",") {
		if email = strings.TrimSpace(email); email != "" {
			cfg.AdminEmails = append(cfg.AdminEmails, strings.ToLower(email))
		}
	}

	return cfg, nil
}

// IsAdminEmail reports whether the email is on the admin allowlist.
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(email)
	for _, admin := range c.AdminEmails {
		if admin == email {
			return true
		}
	}
	return false
}
