package config

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSecretManager_GetSecret(t *testing.T) {
	manager := &EnvSecretManager{}

	t.Setenv("STRDASH_BACKEND_PASSWORD", "svc-pw")
	value, err := manager.GetSecret(SecretBackendPassword)
	require.NoError(t, err)
	assert.Equal(t, "svc-pw", value)

	_, err = manager.GetSecret("not_set_anywhere")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

type mapSecrets map[string]string

func (m mapSecrets) GetSecret(key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

type failingSecrets struct{}

func (failingSecrets) GetSecret(string) (string, error) {
	return "", errors.New("vault sealed")
}

func TestApplySecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Backend.Username = "configured"

	err := applySecrets(cfg, mapSecrets{
		SecretSessionKey:        strongSecret,
		SecretBackendUsername:   "from-provider",
		SecretBackendPassword:   "svc-pw",
		SecretAnalyticsPassword: "rs-pw",
	})
	require.NoError(t, err)

	assert.Equal(t, strongSecret, cfg.Session.Secret)
	assert.Equal(t, "configured", cfg.Backend.Username, "configured values win")
	assert.Equal(t, "svc-pw", cfg.Backend.Password)
	assert.Equal(t, "rs-pw", cfg.Sources.Analytics.Password)
	assert.Empty(t, cfg.Sources.Primary.Password, "missing secrets are skipped")
}

func TestApplySecrets_SkipsHashedPassword(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.HashedPassword = "$2a$04$abc"

	require.NoError(t, applySecrets(cfg, mapSecrets{SecretAuthPassword: "plain"}))
	assert.Empty(t, cfg.Auth.Password)
}

func TestApplySecrets_ProviderFailure(t *testing.T) {
	err := applySecrets(&Config{}, failingSecrets{})
	assert.ErrorContains(t, err, "vault sealed")
}

func TestNewSecretManager(t *testing.T) {
	cfg := &Config{}
	m, err := NewSecretManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretManager{}, m)

	cfg.Secrets.Provider = "vault"
	cfg.Secrets.Vault.Address = "http://127.0.0.1:8200"
	m, err = NewSecretManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &VaultSecretManager{}, m)

	cfg.Secrets.Provider = "gcp"
	_, err = NewSecretManager(cfg)
	assert.ErrorContains(t, err, "unsupported secret provider")
}
