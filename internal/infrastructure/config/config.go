// Package config provides configuration loading for the version-finder application.
// Settings are layered from defaults, an optional settings file, an optional
// HashiCorp Vault secret and environment variables, in increasing precedence.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/vault"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/MyCarrier-DevOps/version-finder/internal/domain"
)

// Environment variable names.
const (
	// EnvSettingsFile is the path to a JSON (or YAML) settings file.
	EnvSettingsFile = "VERSION_FINDER_SETTINGS"

	// EnvPattern overrides the version search pattern.
	EnvPattern = "VERSION_FINDER_PATTERN"

	// EnvPatternStyle selects a built-in pattern: "dot" or "underscore".
	EnvPatternStyle = "VERSION_FINDER_PATTERN_STYLE"

	// EnvGitTimeout is the per-command git timeout in seconds.
	EnvGitTimeout = "VERSION_FINDER_GIT_TIMEOUT"

	// EnvGitMaxRetries is the number of retries for network git commands.
	EnvGitMaxRetries = "VERSION_FINDER_GIT_MAX_RETRIES"

	// EnvGitRetryDelay is the delay between retries in seconds.
	EnvGitRetryDelay = "VERSION_FINDER_GIT_RETRY_DELAY"

	// EnvPull enables fast-forwarding the searched branch from its remote.
	EnvPull = "VERSION_FINDER_PULL"

	// EnvFetchOnInit enables fetching remotes when a session is initialized.
	EnvFetchOnInit = "VERSION_FINDER_FETCH_ON_INIT"

	// EnvLogLevel is the log level (debug, info, error).
	EnvLogLevel = "LOG_LEVEL"

	// EnvLogAppName is the application name for log context.
	EnvLogAppName = "LOG_APP_NAME"

	// EnvVaultSettingsPath is the path in Vault KV where settings are stored.
	EnvVaultSettingsPath = "VAULT_SETTINGS_PATH"

	// EnvVaultSettingsMount is the Vault KV mount point (defaults to "secret").
	EnvVaultSettingsMount = "VAULT_SETTINGS_MOUNT"
)

// Settings keys shared by the settings file and the Vault secret.
const (
	KeySearchPattern = "search_pattern"
	KeyPatternStyle  = "pattern_style"
	KeyGitTimeout    = "git_timeout_seconds"
	KeyGitMaxRetries = "git_max_retries"
	KeyGitRetryDelay = "git_retry_delay_seconds"
	KeyPull          = "pull"
	KeyFetchOnInit   = "fetch_on_init"

	// vaultConfigKey holds the whole settings document as a JSON string.
	vaultConfigKey = "config"
)

// Pattern styles accepted by pattern_style.
const (
	PatternStyleDot        = "dot"
	PatternStyleUnderscore = "underscore"
)

// Default values.
const (
	DefaultLogLevel           = "info"
	DefaultLogAppName         = "version-finder"
	DefaultGitTimeoutSeconds  = 30
	DefaultGitMaxRetries      = 0
	DefaultGitRetryDelay      = 1
	DefaultVaultSettingsMount = "secret"
)

// Configuration errors.
var (
	// ErrSettingsNotFound indicates the settings file does not exist.
	ErrSettingsNotFound = errors.New("settings file not found")

	// ErrSettingsInvalid indicates the settings file or secret could not be parsed.
	ErrSettingsInvalid = errors.New("settings are not valid")

	// ErrInvalidSetting indicates a setting has the wrong type or is out of range.
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrVaultClientFailed indicates failure to create or authenticate with Vault.
	ErrVaultClientFailed = errors.New("failed to create Vault client")

	// ErrVaultSecretNotFound indicates the secret was not found in Vault.
	ErrVaultSecretNotFound = errors.New("settings not found in Vault")
)

// VaultClient defines the interface for Vault operations.
// This interface allows for dependency injection and testing.
type VaultClient interface {
	// GetKVSecret retrieves a secret from Vault's KV v2 secrets engine.
	GetKVSecret(ctx context.Context, path, mount string) (map[string]any, error)
}

// VaultClientFactory creates a VaultClient using AppRole authentication.
type VaultClientFactory func(ctx context.Context) (VaultClient, error)

// DefaultVaultClientFactory creates a VaultClient using goLibMyCarrier/vault with AppRole auth.
func DefaultVaultClientFactory(ctx context.Context) (VaultClient, error) {
	// Uses: VAULT_ADDRESS, VAULT_ROLE_ID, VAULT_SECRET_ID
	vaultConfig, err := vault.VaultLoadConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVaultClientFailed, err)
	}

	client, err := vault.CreateVaultClient(ctx, vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVaultClientFailed, err)
	}

	return client, nil
}

// Config holds all application configuration.
type Config struct {
	// SearchPattern is the delimited regex literal used to find version commits.
	SearchPattern string

	// GitTimeout bounds every git command.
	GitTimeout time.Duration

	// GitMaxRetries is how often pull, fetch and submodule update are retried.
	GitMaxRetries int

	// GitRetryDelay is the pause between retries.
	GitRetryDelay time.Duration

	// Pull fast-forwards the searched branch when a remote exists.
	Pull bool

	// FetchOnInit fetches remotes when a session is initialized.
	FetchOnInit bool

	// LogLevel is the logging level (debug, info, error).
	LogLevel string

	// LogAppName is the application name for log context.
	LogAppName string
}

// Load loads the application configuration.
//
// Precedence, lowest first:
//   - built-in defaults
//   - VERSION_FINDER_SETTINGS: path to a local settings file
//   - VAULT_SETTINGS_PATH: Vault KV secret (with VAULT_ADDRESS, VAULT_ROLE_ID, VAULT_SECRET_ID)
//   - VERSION_FINDER_* environment variables
func Load() (*Config, error) {
	return LoadWithVaultClient(context.Background(), nil)
}

// LoadWithVaultClient loads configuration using the provided VaultClient factory.
// If vaultClientFactory is nil, DefaultVaultClientFactory is used.
func LoadWithVaultClient(ctx context.Context, vaultClientFactory VaultClientFactory) (*Config, error) {
	v := viper.New()
	v.SetDefault(KeyGitTimeout, DefaultGitTimeoutSeconds)
	v.SetDefault(KeyGitMaxRetries, DefaultGitMaxRetries)
	v.SetDefault(KeyGitRetryDelay, DefaultGitRetryDelay)
	v.SetDefault(KeyPull, true)
	v.SetDefault(KeyFetchOnInit, true)

	if path := os.Getenv(EnvSettingsFile); path != "" {
		if err := readSettingsFile(v, path); err != nil {
			return nil, err
		}
	}

	if path := os.Getenv(EnvVaultSettingsPath); path != "" {
		if err := mergeVaultSettings(ctx, v, vaultClientFactory, path); err != nil {
			return nil, err
		}
	}

	bindEnv(v)

	cfg, err := build(v)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = os.Getenv(EnvLogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	cfg.LogAppName = os.Getenv(EnvLogAppName)
	if cfg.LogAppName == "" {
		cfg.LogAppName = DefaultLogAppName
	}

	return cfg, nil
}

// readSettingsFile loads the settings file into v. Files without an extension are read as JSON.
func readSettingsFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSettingsNotFound, path)
		}
		return fmt.Errorf("%w: %s: %w", ErrSettingsInvalid, path, err)
	}
	return nil
}

// mergeVaultSettings merges the Vault secret over the file settings.
// The secret holds either the settings keys directly or a JSON document under "config".
func mergeVaultSettings(
	ctx context.Context,
	v *viper.Viper,
	vaultClientFactory VaultClientFactory,
	path string,
) error {
	if vaultClientFactory == nil {
		vaultClientFactory = DefaultVaultClientFactory
	}

	client, err := vaultClientFactory(ctx)
	if err != nil {
		return err
	}

	mount := os.Getenv(EnvVaultSettingsMount)
	if mount == "" {
		mount = DefaultVaultSettingsMount
	}

	secretData, err := client.GetKVSecret(ctx, path, mount)
	if err != nil {
		return fmt.Errorf("%w at path %s: %w", ErrVaultSecretNotFound, path, err)
	}

	settings := secretData
	if raw, ok := secretData[vaultConfigKey].(string); ok {
		settings = map[string]any{}
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			return fmt.Errorf("%w: vault %s: %w", ErrSettingsInvalid, path, err)
		}
	}

	if err := v.MergeConfigMap(settings); err != nil {
		return fmt.Errorf("%w: vault %s: %w", ErrSettingsInvalid, path, err)
	}
	return nil
}

func bindEnv(v *viper.Viper) {
	// BindEnv only fails without a key.
	_ = v.BindEnv(KeySearchPattern, EnvPattern)
	_ = v.BindEnv(KeyPatternStyle, EnvPatternStyle)
	_ = v.BindEnv(KeyGitTimeout, EnvGitTimeout)
	_ = v.BindEnv(KeyGitMaxRetries, EnvGitMaxRetries)
	_ = v.BindEnv(KeyGitRetryDelay, EnvGitRetryDelay)
	_ = v.BindEnv(KeyPull, EnvPull)
	_ = v.BindEnv(KeyFetchOnInit, EnvFetchOnInit)
}

// build converts the merged settings into a validated Config.
func build(v *viper.Viper) (*Config, error) {
	pattern, err := searchPattern(v)
	if err != nil {
		return nil, err
	}

	timeout, err := cast.ToIntE(v.Get(KeyGitTimeout))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("%w: %s must be a positive number of seconds, got %v",
			ErrInvalidSetting, KeyGitTimeout, v.Get(KeyGitTimeout))
	}

	retries, err := cast.ToIntE(v.Get(KeyGitMaxRetries))
	if err != nil || retries < 0 {
		return nil, fmt.Errorf("%w: %s must be zero or more, got %v",
			ErrInvalidSetting, KeyGitMaxRetries, v.Get(KeyGitMaxRetries))
	}

	delay, err := cast.ToIntE(v.Get(KeyGitRetryDelay))
	if err != nil || delay <= 0 {
		return nil, fmt.Errorf("%w: %s must be a positive number of seconds, got %v",
			ErrInvalidSetting, KeyGitRetryDelay, v.Get(KeyGitRetryDelay))
	}

	pull, err := cast.ToBoolE(v.Get(KeyPull))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSetting, KeyPull, err)
	}

	fetch, err := cast.ToBoolE(v.Get(KeyFetchOnInit))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSetting, KeyFetchOnInit, err)
	}

	return &Config{
		SearchPattern: pattern,
		GitTimeout:    time.Duration(timeout) * time.Second,
		GitMaxRetries: retries,
		GitRetryDelay: time.Duration(delay) * time.Second,
		Pull:          pull,
		FetchOnInit:   fetch,
	}, nil
}

// searchPattern resolves the pattern literal. An explicit pattern wins over a style.
func searchPattern(v *viper.Viper) (string, error) {
	if v.IsSet(KeySearchPattern) {
		p, err := domain.PatternFromValue(v.Get(KeySearchPattern))
		if err != nil {
			return "", err
		}
		return p.String(), nil
	}

	switch style := v.GetString(KeyPatternStyle); style {
	case "", PatternStyleDot:
		return domain.DotVersionPattern, nil
	case PatternStyleUnderscore:
		return domain.UnderscoreVersionPattern, nil
	default:
		return "", fmt.Errorf("%w: %s must be %q or %q, got %q",
			ErrInvalidSetting, KeyPatternStyle, PatternStyleDot, PatternStyleUnderscore, style)
	}
}
