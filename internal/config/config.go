// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/grimoireapp/grimoire-server/internal/auth"
)

// Store drivers.
const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Storage StorageConfig
	Server  ServerConfig
	Auth    AuthConfig
	Rating  RatingConfig
	Images  ImageConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// IsProduction reports whether the service runs in production.
func (a AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// StorageConfig holds the data directory and store backend.
type StorageConfig struct {
	DataPath string
	Driver   string // badger or sqlite
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Name           string
	Port           string        // Server port (default: 8080)
	BaseURL        string        // Public URL prefix for image links
	AllowedOrigins []string      // CORS origins
	ReadTimeout    time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout   time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout    time.Duration // HTTP idle timeout (default: 60s)
	RequestTimeout time.Duration // Per-request store deadline (default: 10s)
	AdvertiseMDNS  bool          // Advertise via mDNS (default: false)
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Secret is the TOKEN_SECRET the PASETO key is derived from. Empty outside
	// production means an ephemeral secret is generated at startup.
	Secret   string
	TokenTTL time.Duration
}

// RatingConfig holds the inclusive grade bounds.
type RatingConfig struct {
	Min int
	Max int
}

// ImageConfig holds cover processing limits.
type ImageConfig struct {
	MaxBytes int64
	Quality  int
}

// Load loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
//
// args excludes the program name. Load uses its own FlagSet.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("grimoire", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := fs.String("data-path", "", "Base path for the database, search index and covers")
	storeDriver := fs.String("store-driver", "", "Store backend (badger, sqlite)")
	serverName := fs.String("server-name", "", "Name for the server")
	baseURL := fs.String("base-url", "", "Public base URL (default: http://localhost:<port>)")
	allowedOrigins := fs.String("allowed-origins", "", "Comma separated CORS origins")
	tokenTTL := fs.String("token-ttl", "", "Token lifetime, e.g. 30m, 24h, 7d (default: 24h)")

	// Server flags
	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	advertiseMDNS := fs.String("advertise-mdns", "", "Advertise via mDNS (default: false)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// A missing .env file is fine. godotenv never overrides the real environment.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
			Driver:   strings.ToLower(getConfigValue(*storeDriver, "STORE_DRIVER", DriverBadger)),
		},
		Server: ServerConfig{
			Name:           getConfigValue(*serverName, "SERVER_NAME", "Grimoire"),
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getConfigValue(*allowedOrigins, "ALLOWED_ORIGINS", "http://localhost:3000")),
			AdvertiseMDNS:  getBoolConfigValue(*advertiseMDNS, "ADVERTISE_MDNS", false),
		},
		Auth: AuthConfig{
			Secret:   os.Getenv("TOKEN_SECRET"),
			TokenTTL: auth.ParseTTL(getConfigValue(*tokenTTL, "TOKEN_TTL", "24h")),
		},
	}
	cfg.Server.BaseURL = strings.TrimRight(
		getConfigValue(*baseURL, "BASE_URL", "http://localhost:"+cfg.Server.Port), "/")

	var err error
	if cfg.Rating.Min, err = getIntConfigValue("", "RATING_MIN", 0); err != nil {
		return nil, err
	}
	if cfg.Rating.Max, err = getIntConfigValue("", "RATING_MAX", 5); err != nil {
		return nil, err
	}
	if cfg.Images.Quality, err = getIntConfigValue("", "IMAGE_QUALITY", 80); err != nil {
		return nil, err
	}
	maxImage, err := getIntConfigValue("", "MAX_IMAGE_SIZE", 5<<20)
	if err != nil {
		return nil, err
	}
	cfg.Images.MaxBytes = int64(maxImage)

	// Parse server timeouts.
	if cfg.Server.ReadTimeout, err = getDurationConfigValue(*readTimeout, "SERVER_READ_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = getDurationConfigValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = getDurationConfigValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.Server.RequestTimeout, err = getDurationConfigValue("", "REQUEST_TIMEOUT", "10s"); err != nil {
		return nil, err
	}

	// Expand and validate data path.
	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Storage.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}

	switch c.Storage.Driver {
	case DriverBadger, DriverSQLite:
	default:
		return fmt.Errorf("invalid store driver: %s (must be badger or sqlite)", c.Storage.Driver)
	}

	if c.Rating.Min > c.Rating.Max {
		return fmt.Errorf("RATING_MIN (%d) must not exceed RATING_MAX (%d)", c.Rating.Min, c.Rating.Max)
	}

	if c.Images.Quality < 1 || c.Images.Quality > 100 {
		return fmt.Errorf("invalid image quality: %d (must be 1-100)", c.Images.Quality)
	}
	if c.Images.MaxBytes <= 0 {
		return fmt.Errorf("invalid max image size: %d", c.Images.MaxBytes)
	}

	if c.App.IsProduction() && c.Auth.Secret == "" {
		return errors.New("TOKEN_SECRET is required in production")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath defaults the data path to ~/Grimoire/data.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "Grimoire", "data")

	expanded, err := expandPath(c.Storage.DataPath, defaultPath)
	if err != nil {
		return err
	}
	c.Storage.DataPath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) (int, error) {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(strValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, strValue, err)
	}
	return n, nil
}

func getDurationConfigValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, strValue, err)
	}
	return d, nil
}

// splitList parses a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
