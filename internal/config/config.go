// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Store backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Storage StorageConfig
	Cache   CacheConfig
	Import  ImportConfig
	Lock    LockConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `validate:"required,oneof=development staging production"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string `validate:"required,oneof=debug info warn error"`
}

// StorageConfig holds the on-disk layout of the library.
type StorageConfig struct {
	// DataPath is the root directory holding the record store and page blobs.
	DataPath string `validate:"required"`
	// Backend selects the record store implementation (badger or sqlite).
	Backend string `validate:"oneof=badger sqlite"`
	// ReadTimeout bounds a single page blob read (default: 10s).
	ReadTimeout time.Duration `validate:"gte=0"`
	// SweepGrace is how old an unreferenced blob must be before the sweep removes it (default: 1h).
	SweepGrace time.Duration `validate:"gte=0"`
}

// CacheConfig holds the in-memory image cache bounds.
type CacheConfig struct {
	ThumbnailEntries int   `validate:"gte=1"`
	ThumbnailBytes   int64 `validate:"gte=1"`
	PageEntries      int   `validate:"gte=1"`
	PageBytes        int64 `validate:"gte=1"`
}

// ImportConfig holds image import configuration.
type ImportConfig struct {
	// Workers bounds parallel decode/resize during import and page loads (default: 4).
	Workers int `validate:"gte=1,lte=64"`
}

// LockConfig holds the lock screen configuration.
type LockConfig struct {
	// DefaultPasscode is used until the user changes it (default: 081201).
	DefaultPasscode string `validate:"required,min=4"`
}

// PagesPath returns the directory holding page blobs.
func (c *Config) PagesPath() string {
	return filepath.Join(c.Storage.DataPath, "pages")
}

// DatabasePath returns the record store location for the configured backend.
func (c *Config) DatabasePath() string {
	if c.Storage.Backend == BackendSQLite {
		return filepath.Join(c.Storage.DataPath, "comics.db")
	}
	return filepath.Join(c.Storage.DataPath, "db")
}

// LockPath returns the single-process lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Storage.DataPath, "comicshelf.lock")
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("comicshelf", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := fs.String("data-path", "", "Root directory for the comic library")
	backend := fs.String("store-backend", "", "Record store backend (badger, sqlite)")
	readTimeout := fs.String("read-timeout", "", "Page blob read timeout (default: 10s)")
	sweepGrace := fs.String("sweep-grace", "", "Minimum age of orphan blobs before removal (default: 1h)")
	thumbEntries := fs.String("thumb-cache-entries", "", "Thumbnail cache entry limit (default: 50)")
	thumbBytes := fs.String("thumb-cache-bytes", "", "Thumbnail cache byte limit (default: 100MiB)")
	pageEntries := fs.String("page-cache-entries", "", "Page cache entry limit (default: 10)")
	pageBytes := fs.String("page-cache-bytes", "", "Page cache byte limit (default: 256MiB)")
	workers := fs.String("import-workers", "", "Parallel image workers (default: 4)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: strings.ToLower(getConfigValue(*logLevel, "LOG_LEVEL", "info")),
		},
		Storage: StorageConfig{
			DataPath: getConfigValue(*dataPath, "COMICS_DATA_PATH", ""),
			Backend:  strings.ToLower(getConfigValue(*backend, "COMICS_STORE_BACKEND", BackendBadger)),
		},
		Cache: CacheConfig{
			ThumbnailEntries: getIntConfigValue(*thumbEntries, "COMICS_THUMB_CACHE_ENTRIES", 50),
			ThumbnailBytes:   int64(getIntConfigValue(*thumbBytes, "COMICS_THUMB_CACHE_BYTES", 100<<20)),
			PageEntries:      getIntConfigValue(*pageEntries, "COMICS_PAGE_CACHE_ENTRIES", 10),
			PageBytes:        int64(getIntConfigValue(*pageBytes, "COMICS_PAGE_CACHE_BYTES", 256<<20)),
		},
		Import: ImportConfig{
			Workers: getIntConfigValue(*workers, "COMICS_IMPORT_WORKERS", 4),
		},
		Lock: LockConfig{
			DefaultPasscode: getConfigValue("", "COMICS_DEFAULT_PASSCODE", "081201"),
		},
	}

	var err error
	cfg.Storage.ReadTimeout, err = getDurationConfigValue(*readTimeout, "COMICS_READ_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	cfg.Storage.SweepGrace, err = getDurationConfigValue(*sweepGrace, "COMICS_SWEEP_GRACE", "1h")
	if err != nil {
		return nil, err
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: %q fails %s", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag())
		}
		return err
	}

	if c.Storage.DataPath != "" && !filepath.IsAbs(c.Storage.DataPath) {
		return errors.New("data path must be absolute after expansion")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath defaults the data path to ~/ComicShelf.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	expanded, err := expandPath(c.Storage.DataPath, filepath.Join(homeDir, "ComicShelf"))
	if err != nil {
		return err
	}
	c.Storage.DataPath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envKey != "" {
		if envValue := os.Getenv(envKey); envValue != "" {
			return envValue
		}
	}
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getDurationConfigValue parses a duration from flag, env var, or default.
func getDurationConfigValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	raw := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, raw, err)
	}
	return d, nil
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Env vars take precedence over .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
