package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/version-finder/internal/domain"
)

// mockVaultClient implements VaultClient interface for testing.
type mockVaultClient struct {
	secrets   map[string]map[string]any
	err       error
	lastMount string
}

func (m *mockVaultClient) GetKVSecret(_ context.Context, path, mount string) (map[string]any, error) {
	m.lastMount = mount
	if m.err != nil {
		return nil, m.err
	}
	if secret, ok := m.secrets[path]; ok {
		return secret, nil
	}
	return nil, errors.New("secret not found")
}

// mockVaultClientFactory creates a factory that returns the provided mock client.
func mockVaultClientFactory(client VaultClient, err error) VaultClientFactory {
	return func(_ context.Context) (VaultClient, error) {
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// clearEnv unsets every variable Load reads so tests start from defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		EnvSettingsFile, EnvPattern, EnvPatternStyle, EnvGitTimeout, EnvGitMaxRetries,
		EnvGitRetryDelay, EnvPull, EnvFetchOnInit, EnvLogLevel, EnvLogAppName,
		EnvVaultSettingsPath, EnvVaultSettingsMount,
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeSettings(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	// Act
	cfg, err := Load()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.DotVersionPattern, cfg.SearchPattern)
	assert.Equal(t, 30*time.Second, cfg.GitTimeout)
	assert.Equal(t, 0, cfg.GitMaxRetries)
	assert.Equal(t, time.Second, cfg.GitRetryDelay)
	assert.True(t, cfg.Pull)
	assert.True(t, cfg.FetchOnInit)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultLogAppName, cfg.LogAppName)
}

func TestLoad_CustomLogSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogAppName, "custom-app")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "custom-app", cfg.LogAppName)
}

func TestLoad_SettingsFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSettingsFile, writeSettings(t, "settings.json", `{
		"search_pattern": "/Release: (\\d+)/i",
		"git_timeout_seconds": 10,
		"git_max_retries": 2,
		"git_retry_delay_seconds": 3,
		"pull": false,
		"fetch_on_init": false
	}`))

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, `/Release: (\d+)/i`, cfg.SearchPattern)
	assert.Equal(t, 10*time.Second, cfg.GitTimeout)
	assert.Equal(t, 2, cfg.GitMaxRetries)
	assert.Equal(t, 3*time.Second, cfg.GitRetryDelay)
	assert.False(t, cfg.Pull)
	assert.False(t, cfg.FetchOnInit)
}

func TestLoad_SettingsFileWithoutExtension(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSettingsFile, writeSettings(t, "settings", `{"pattern_style": "underscore"}`))

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, domain.UnderscoreVersionPattern, cfg.SearchPattern)
}

func TestLoad_SettingsFileYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSettingsFile, writeSettings(t, "settings.yaml", "git_max_retries: 4\npattern_style: dot\n"))

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.GitMaxRetries)
	assert.Equal(t, domain.DotVersionPattern, cfg.SearchPattern)
}

func TestLoad_SettingsFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "missing file",
			path:    func(*testing.T) string { return "/nonexistent/path/to/settings.json" },
			wantErr: ErrSettingsNotFound,
		},
		{
			name:    "invalid json",
			path:    func(t *testing.T) string { return writeSettings(t, "bad.json", "not valid json") },
			wantErr: ErrSettingsInvalid,
		},
		{
			name:    "pattern is not a string",
			path:    func(t *testing.T) string { return writeSettings(t, "num.json", `{"search_pattern": 42}`) },
			wantErr: domain.ErrInvalidPatternType,
		},
		{
			name:    "pattern without delimiters",
			path:    func(t *testing.T) string { return writeSettings(t, "fmt.json", `{"search_pattern": "Version"}`) },
			wantErr: domain.ErrInvalidPatternFormat,
		},
		{
			name:    "unknown pattern style",
			path:    func(t *testing.T) string { return writeSettings(t, "style.json", `{"pattern_style": "semver"}`) },
			wantErr: ErrInvalidSetting,
		},
		{
			name:    "zero timeout",
			path:    func(t *testing.T) string { return writeSettings(t, "t.json", `{"git_timeout_seconds": 0}`) },
			wantErr: ErrInvalidSetting,
		},
		{
			name:    "negative retries",
			path:    func(t *testing.T) string { return writeSettings(t, "r.json", `{"git_max_retries": -1}`) },
			wantErr: ErrInvalidSetting,
		},
		{
			name:    "zero retry delay",
			path:    func(t *testing.T) string { return writeSettings(t, "d.json", `{"git_retry_delay_seconds": 0}`) },
			wantErr: ErrInvalidSetting,
		},
		{
			name:    "non boolean pull",
			path:    func(t *testing.T) string { return writeSettings(t, "p.json", `{"pull": "sometimes"}`) },
			wantErr: ErrInvalidSetting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(EnvSettingsFile, tt.path(t))

			_, err := Load()

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSettingsFile, writeSettings(t, "settings.json", `{"git_timeout_seconds": 10, "pull": true}`))
	t.Setenv(EnvGitTimeout, "45")
	t.Setenv(EnvPull, "false")
	t.Setenv(EnvPatternStyle, "underscore")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.GitTimeout)
	assert.False(t, cfg.Pull)
	assert.Equal(t, domain.UnderscoreVersionPattern, cfg.SearchPattern)
}

func TestLoad_ExplicitPatternWinsOverStyle(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPatternStyle, "underscore")
	t.Setenv(EnvPattern, "/v(\\d+)/")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, `/v(\d+)/`, cfg.SearchPattern)
}

func TestLoad_InvalidEnvNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvGitMaxRetries, "many")

	_, err := Load()

	assert.ErrorIs(t, err, ErrInvalidSetting)
}

// Vault integration tests

func TestLoadWithVaultClient_DirectMapping(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVaultSettingsPath, "ci/version-finder")

	mockClient := &mockVaultClient{
		secrets: map[string]map[string]any{
			"ci/version-finder": {
				"search_pattern":  "/Version: (XX_\\d+_\\d+_\\d+)/",
				"git_max_retries": "3",
			},
		},
	}

	cfg, err := LoadWithVaultClient(context.Background(), mockVaultClientFactory(mockClient, nil))

	require.NoError(t, err)
	assert.Equal(t, domain.UnderscoreVersionPattern, cfg.SearchPattern)
	assert.Equal(t, 3, cfg.GitMaxRetries)
	assert.Equal(t, DefaultVaultSettingsMount, mockClient.lastMount)
}

func TestLoadWithVaultClient_ConfigAsJSONString(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVaultSettingsPath, "ci/version-finder")

	mockClient := &mockVaultClient{
		secrets: map[string]map[string]any{
			"ci/version-finder": {"config": `{"git_timeout_seconds": 90, "fetch_on_init": false}`},
		},
	}

	cfg, err := LoadWithVaultClient(context.Background(), mockVaultClientFactory(mockClient, nil))

	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.GitTimeout)
	assert.False(t, cfg.FetchOnInit)
}

func TestLoadWithVaultClient_OverridesFileAndYieldsToEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSettingsFile, writeSettings(t, "settings.json", `{"git_max_retries": 1, "git_retry_delay_seconds": 5}`))
	t.Setenv(EnvVaultSettingsPath, "ci/version-finder")
	t.Setenv(EnvGitRetryDelay, "7")

	mockClient := &mockVaultClient{
		secrets: map[string]map[string]any{
			"ci/version-finder": {"git_max_retries": 2, "git_retry_delay_seconds": 6},
		},
	}

	cfg, err := LoadWithVaultClient(context.Background(), mockVaultClientFactory(mockClient, nil))

	require.NoError(t, err)
	assert.Equal(t, 2, cfg.GitMaxRetries, "vault overrides the file")
	assert.Equal(t, 7*time.Second, cfg.GitRetryDelay, "env overrides vault")
}

func TestLoadWithVaultClient_NonStringPattern(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVaultSettingsPath, "ci/version-finder")

	mockClient := &mockVaultClient{
		secrets: map[string]map[string]any{
			"ci/version-finder": {"search_pattern": []any{"/a(b)/"}},
		},
	}

	_, err := LoadWithVaultClient(context.Background(), mockVaultClientFactory(mockClient, nil))

	assert.ErrorIs(t, err, domain.ErrInvalidPatternType)
}

func TestLoadWithVaultClient_VaultClientError(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVaultSettingsPath, "ci/version-finder")
	factoryErr := errors.New("approle login failed")

	_, err := LoadWithVaultClient(context.Background(), mockVaultClientFactory(nil, factoryErr))

	assert.ErrorIs(t, err, factoryErr)
}

func TestLoadWithVaultClient_VaultSecretNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVaultSettingsPath, "ci/missing")

	mockClient := &mockVaultClient{secrets: map[string]map[string]any{}}

	_, err := LoadWithVaultClient(context.Background(), mockVaultClientFactory(mockClient, nil))

	assert.ErrorIs(t, err, ErrVaultSecretNotFound)
}

func TestLoadWithVaultClient_VaultInvalidJSON(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVaultSettingsPath, "ci/version-finder")

	mockClient := &mockVaultClient{
		secrets: map[string]map[string]any{
			"ci/version-finder": {"config": "{not json"},
		},
	}

	_, err := LoadWithVaultClient(context.Background(), mockVaultClientFactory(mockClient, nil))

	assert.ErrorIs(t, err, ErrSettingsInvalid)
}

func TestLoadWithVaultClient_CustomMount(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVaultSettingsPath, "ci/version-finder")
	t.Setenv(EnvVaultSettingsMount, "kv-tools")

	mockClient := &mockVaultClient{
		secrets: map[string]map[string]any{"ci/version-finder": {}},
	}

	_, err := LoadWithVaultClient(context.Background(), mockVaultClientFactory(mockClient, nil))

	require.NoError(t, err)
	assert.Equal(t, "kv-tools", mockClient.lastMount)
}
