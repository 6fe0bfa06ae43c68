package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// ErrSecretNotFound is returned when a provider has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// Secret keys understood by every provider
const (
	SecretSessionKey        = "session_secret"
	SecretAuthUsername      = "auth_username"
	SecretAuthPassword      = "auth_password"
	SecretBackendUsername   = "backend_username"
	SecretBackendPassword   = "backend_password"
	SecretPrimaryPassword   = "primary_password"
	SecretAnalyticsPassword = "analytics_password"
)

// SecretManager interface for retrieving secrets
type SecretManager interface {
	GetSecret(key string) (string, error)
}

// EnvSecretManager uses environment variables (default)
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "STRDASH_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, envKey)
	}
	return value, nil
}

// VaultSecretManager retrieves secrets from HashiCorp Vault
type VaultSecretManager struct {
	config *Config
	client *api.Client
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if config.Secrets.Vault.Token != "" {
		client.SetToken(config.Secrets.Vault.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	return &VaultSecretManager{
		config: config,
		client: client,
	}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	path := v.config.Secrets.Vault.Path
	if path == "" {
		path = "secret/strdash"
	}

	secret, err := v.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: nothing at Vault path %s", ErrSecretNotFound, path)
	}

	// KV v2 nests the values under "data"
	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not in Vault secret", ErrSecretNotFound, key)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager
type AWSSecretManager struct {
	config *Config
	client *secretsmanager.SecretsManager
	cached map[string]string
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	awsConfig := &aws.Config{Region: aws.String(config.Secrets.AWS.Region)}
	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.Secrets.AWS.AccessKey,
			config.Secrets.AWS.SecretKey,
			"",
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &AWSSecretManager{
		config: config,
		client: secretsmanager.New(sess),
	}, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	if a.cached == nil {
		secretID := a.config.Secrets.AWS.SecretID
		if secretID == "" {
			secretID = "strdash/secrets"
		}

		result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
			SecretId: aws.String(secretID),
		})
		if err != nil {
			return "", fmt.Errorf("failed to get secret from AWS: %w", err)
		}
		if result.SecretString == nil {
			return "", fmt.Errorf("AWS secret %s has no string value", secretID)
		}

		var secrets map[string]string
		if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
			return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
		}
		a.cached = secrets
	}

	value, ok := a.cached[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not in AWS secret", ErrSecretNotFound, key)
	}
	return value, nil
}

// NewSecretManager creates the appropriate secret manager based on configuration
func NewSecretManager(config *Config) (SecretManager, error) {
	provider := config.Secrets.Provider
	if provider == "" {
		provider = "env"
	}

	switch provider {
	case "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(config)
	case "aws":
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", provider)
	}
}

// LoadSecrets fills credentials that the config file left empty from the
// configured provider. Missing secrets are skipped; any other provider
// failure is returned.
func LoadSecrets(config *Config) error {
	manager, err := NewSecretManager(config)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	return applySecrets(config, manager)
}

func applySecrets(config *Config, manager SecretManager) error {
	targets := []struct {
		key string
		dst *string
	}{
		{SecretSessionKey, &config.Session.Secret},
		{SecretAuthUsername, &config.Auth.Username},
		{SecretAuthPassword, &config.Auth.Password},
		{SecretBackendUsername, &config.Backend.Username},
		{SecretBackendPassword, &config.Backend.Password},
		{SecretPrimaryPassword, &config.Sources.Primary.Password},
		{SecretAnalyticsPassword, &config.Sources.Analytics.Password},
	}

	for _, t := range targets {
		if *t.dst != "" {
			continue
		}
		// The dashboard password is already hashed
		if t.key == SecretAuthPassword && config.Auth.HashedPassword != "" {
			continue
		}
		value, err := manager.GetSecret(t.key)
		if err != nil {
			if errors.Is(err, ErrSecretNotFound) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", t.key, err)
		}
		*t.dst = value
	}
	return nil
}
