// Package config loads the persona-notes server configuration from CLI flags
// and environment variables, validates required fields, and provides
// sensible defaults.
//
// CLI flags pick the listen address and the note store (--addr, --store,
// --test). Environment variables provide secrets and service settings.
package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/persona-notes/internal/ratelimit"
)

// Store drivers.
const (
	StoreMongo  = "mongo"
	StoreSQLite = "sqlite"
)

// Identity verification modes.
const (
	AuthModeOIDC = "oidc"
	AuthModeJWT  = "jwt"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr string

	// Note store
	StoreDriver    string // mongo or sqlite
	MongoURI       string // MONGO_CONNECTION_STRING
	MongoDatabase  string // MONGO_DB
	NoteCollection string // NOTE_COLLECTION
	DatabasePath   string // SQLCipher file for the sqlite driver
	DatabaseKey    string // 64 hex characters (32 bytes)

	// Persona service
	PersonaServiceURL string
	InternalKey       string // shared secret that admits system contexts
	RPCTimeout        time.Duration

	// Identity verification
	AuthMode     string // oidc or jwt
	OIDCIssuer   string
	OIDCClientID string
	JWTIssuer    string
	JWTAudience  string
	JWTPublicKey string // 64 hex characters (ed25519 public key)

	// Rate limiting
	RateLimitConfig ratelimit.Config
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Flags are the values taken from the command line.
type Flags struct {
	Addr  string
	Store string
}

// ParseFlags registers --addr, --store and --test on fs and parses args.
// --test is shorthand for --store=sqlite.
func ParseFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	var flags Flags
	var testMode bool
	fs.StringVar(&flags.Addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	fs.StringVar(&flags.Store, "store", "", "Note store: mongo or sqlite (overrides STORE_DRIVER env var)")
	fs.BoolVar(&testMode, "test", false, "Shorthand for --store=sqlite")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if testMode {
		flags.Store = StoreSQLite
	}
	return flags, nil
}

// LoadConfig loads configuration from environment variables and CLI flag
// values. Non-empty flags override the matching env var.
func LoadConfig(flags Flags) (*Config, error) {
	cfg := &Config{}

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if flags.Addr != "" {
		cfg.ListenAddr = flags.Addr
	}

	// Note store
	cfg.StoreDriver = getEnvOrDefault("STORE_DRIVER", StoreMongo)
	if flags.Store != "" {
		cfg.StoreDriver = flags.Store
	}
	cfg.MongoURI = getEnvOrDefault("MONGO_CONNECTION_STRING", "mongodb://localhost:27017")
	cfg.MongoDatabase = getEnvOrDefault("MONGO_DB", "persona")
	cfg.NoteCollection = getEnvOrDefault("NOTE_COLLECTION", "notes")
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "./data/notes.db")
	cfg.DatabaseKey = getEnvOrDefault("DATABASE_KEY", "")

	// Persona service
	cfg.PersonaServiceURL = getEnvOrDefault("PERSONA_SERVICE_URL", "")
	cfg.InternalKey = getEnvOrDefault("INTERNAL_KEY", "")
	cfg.RPCTimeout = parseDurationOrDefault("RPC_TIMEOUT", 10*time.Second)

	// Identity verification
	cfg.AuthMode = getEnvOrDefault("AUTH_MODE", AuthModeOIDC)
	cfg.OIDCIssuer = getEnvOrDefault("OIDC_ISSUER", "https://accounts.google.com")
	cfg.OIDCClientID = getEnvOrDefault("OIDC_CLIENT_ID", "")
	cfg.JWTIssuer = getEnvOrDefault("JWT_ISSUER", "")
	cfg.JWTAudience = getEnvOrDefault("JWT_AUDIENCE", "")
	cfg.JWTPublicKey = getEnvOrDefault("JWT_PUBLIC_KEY", "")

	// Rate limiting
	cfg.RateLimitConfig = ratelimit.Config{
		UserRPS:         parseFloat64OrDefault("RATE_LIMIT_RPS", ratelimit.DefaultConfig.UserRPS),
		UserBurst:       parseIntOrDefault("RATE_LIMIT_BURST", ratelimit.DefaultConfig.UserBurst),
		SystemRPS:       parseFloat64OrDefault("RATE_LIMIT_SYSTEM_RPS", ratelimit.DefaultConfig.SystemRPS),
		SystemBurst:     parseIntOrDefault("RATE_LIMIT_SYSTEM_BURST", ratelimit.DefaultConfig.SystemBurst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, "MONGO_CONNECTION_STRING is required for the mongo store")
		}
		if c.MongoDatabase == "" {
			errs = append(errs, "MONGO_DB is required for the mongo store")
		}
		if c.NoteCollection == "" {
			errs = append(errs, "NOTE_COLLECTION is required for the mongo store")
		}
	case StoreSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, "DATABASE_PATH is required for the sqlite store")
		}
		if c.DatabaseKey == "" {
			errs = append(errs, "DATABASE_KEY is required for the sqlite store (generate with: openssl rand -hex 32)")
		} else if !isHexOfLength(c.DatabaseKey, 32) {
			errs = append(errs, "DATABASE_KEY must be 64 hex characters (32 bytes)")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER must be %q or %q, got %q", StoreMongo, StoreSQLite, c.StoreDriver))
	}

	if c.PersonaServiceURL == "" {
		errs = append(errs, "PERSONA_SERVICE_URL is required")
	}
	if c.RPCTimeout <= 0 {
		errs = append(errs, "RPC_TIMEOUT must be positive")
	}

	switch c.AuthMode {
	case AuthModeOIDC:
		if c.OIDCIssuer == "" {
			errs = append(errs, "OIDC_ISSUER is required when AUTH_MODE=oidc")
		}
		if c.OIDCClientID == "" {
			errs = append(errs, "OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
	case AuthModeJWT:
		if c.JWTIssuer == "" {
			errs = append(errs, "JWT_ISSUER is required when AUTH_MODE=jwt")
		}
		if c.JWTAudience == "" {
			errs = append(errs, "JWT_AUDIENCE is required when AUTH_MODE=jwt")
		}
		if c.JWTPublicKey == "" {
			errs = append(errs, "JWT_PUBLIC_KEY is required when AUTH_MODE=jwt")
		} else if !isHexOfLength(c.JWTPublicKey, 32) {
			errs = append(errs, "JWT_PUBLIC_KEY must be 64 hex characters (ed25519 public key)")
		}
	default:
		errs = append(errs, fmt.Sprintf("AUTH_MODE must be %q or %q, got %q", AuthModeOIDC, AuthModeJWT, c.AuthMode))
	}

	// Validate rate limit config
	if c.RateLimitConfig.UserRPS <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitConfig.UserBurst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}
	if c.RateLimitConfig.SystemRPS <= 0 {
		errs = append(errs, "RATE_LIMIT_SYSTEM_RPS must be positive")
	}
	if c.RateLimitConfig.SystemBurst <= 0 {
		errs = append(errs, "RATE_LIMIT_SYSTEM_BURST must be positive")
	}
	if c.RateLimitConfig.CleanupInterval <= 0 {
		errs = append(errs, "RATE_LIMIT_CLEANUP_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// PrintStartupSummary writes a human-readable summary of the configuration
// to w. It warns when INTERNAL_KEY is unset, since every system-context call
// is then rejected.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "persona-notes server starting...")

	switch c.StoreDriver {
	case StoreSQLite:
		fmt.Fprintf(w, "  Store:    SQLCipher (%s)\n", c.DatabasePath)
	default:
		fmt.Fprintf(w, "  Store:    MongoDB (db: %s, collection: %s)\n", c.MongoDatabase, c.NoteCollection)
	}

	switch c.AuthMode {
	case AuthModeJWT:
		fmt.Fprintf(w, "  Auth:     Service JWT (issuer: %s)\n", c.JWTIssuer)
	default:
		fmt.Fprintf(w, "  Auth:     OIDC (issuer: %s)\n", c.OIDCIssuer)
	}

	fmt.Fprintf(w, "  Personas: %s\n", c.PersonaServiceURL)
	if c.InternalKey == "" {
		fmt.Fprintln(w, "  System:   disabled")
		fmt.Fprintln(w, "  WARNING: INTERNAL_KEY is not set; calls with a system caller context will be rejected")
	} else {
		fmt.Fprintln(w, "  System:   enabled")
	}
	fmt.Fprintf(w, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func isHexOfLength(value string, bytes int) bool {
	decoded, err := hex.DecodeString(value)
	return err == nil && len(decoded) == bytes
}
