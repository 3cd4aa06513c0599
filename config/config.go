/*
config.go - Environment configuration for the server and the CLI

PURPOSE:
  Reads an optional .env file, then LEAVE_* environment variables, and
  applies defaults. Flags in cmd/ override what is loaded here.

VARIABLES:
  LEAVE_ENV             development | production   (development)
  LEAVE_PORT            HTTP port                  (8080)
  LEAVE_DB_PATH         SQLite path or :memory:    (leave.db)
  LEAVE_JWT_SECRET      HS256 signing key          (required to serve or mint)
  LEAVE_TOKEN_TTL       token lifetime             (12h)
  LEAVE_API_URL         server base URL for CLI    (http://localhost:8080)
  LEAVE_TOKEN           bearer token for CLI
  LEAVE_POLL_INTERVAL   reconciler interval        (5s)
  LEAVE_EXPIRY_CHECK    expiry scheduler interval  (1h)

SEE ALSO:
  - cmd/server/main.go
  - cmd/leavectl/main.go
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything both binaries read from the environment.
type Config struct {
	Env          string
	Port         int
	DBPath       string
	JWTSecret    string
	TokenTTL     time.Duration
	APIURL       string
	Token        string
	PollInterval time.Duration
	ExpiryCheck  time.Duration

	// EnvFile is the .env file that was loaded, or "" if none was found.
	EnvFile string
}

// ErrMissingSecret is returned by RequireSecret.
var ErrMissingSecret = errors.New("LEAVE_JWT_SECRET is required but not set")

// Load reads files (default ".env") into the environment without
// overriding variables that are already set, then builds a Config.
// Missing files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	cfg := &Config{}
	for _, f := range files {
		err := godotenv.Load(f)
		if err == nil {
			cfg.EnvFile = f
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var err error
	cfg.Env = getString("LEAVE_ENV", "development")
	cfg.DBPath = getString("LEAVE_DB_PATH", "leave.db")
	cfg.JWTSecret = os.Getenv("LEAVE_JWT_SECRET")
	cfg.APIURL = strings.TrimRight(getString("LEAVE_API_URL", "http://localhost:8080"), "/")
	cfg.Token = os.Getenv("LEAVE_TOKEN")

	if cfg.Port, err = getInt("LEAVE_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.TokenTTL, err = getDuration("LEAVE_TOKEN_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("LEAVE_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ExpiryCheck, err = getDuration("LEAVE_EXPIRY_CHECK", time.Hour); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RequireSecret fails unless a signing secret is configured.
func (c *Config) RequireSecret() error {
	if c.JWTSecret == "" {
		return ErrMissingSecret
	}
	return nil
}

// IsProduction reports whether Env is "production".
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, v)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, v)
	}
	return d, nil
}
