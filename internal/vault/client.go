// Package vault resolves external-provider credentials from HashiCorp Vault
// with an environment-variable fallback for development setups.
package vault

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
)

// Config holds the Vault connection settings
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	SecretPath string // KV v2 path holding provider credentials
}

// Client wraps the Vault client. Disabled or unreachable Vault degrades to
// environment lookups; provider keys are optional everywhere they are used.
type Client struct {
	client *api.Client
	cfg    Config
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewClient creates a Vault client; with Enabled false it only serves env
// fallbacks.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		logger: logger.WithComponent("vault"),
		cache:  make(map[string]string),
	}

	if !cfg.Enabled {
		c.logger.Info("Vault disabled, provider keys resolve from environment")
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	c.logger.Info("Vault client ready", "address", cfg.Address)
	return c, nil
}

// ProviderKey returns the credential for one provider (e.g. "intel"). The
// lookup order is cache, Vault KV, then the PROVIDER_<NAME>_API_KEY
// environment variable. A missing key is not an error; providers treat an
// empty key as "unauthenticated access".
func (c *Client) ProviderKey(ctx context.Context, provider string) string {
	c.mu.RLock()
	cached, ok := c.cache[provider]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	key := c.fromVault(ctx, provider)
	if key == "" {
		key = os.Getenv("PROVIDER_" + strings.ToUpper(provider) + "_API_KEY")
	}

	c.mu.Lock()
	c.cache[provider] = key
	c.mu.Unlock()
	return key
}

func (c *Client) fromVault(ctx context.Context, provider string) string {
	if c.client == nil {
		return ""
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.cfg.SecretPath)
	if err != nil {
		c.logger.Warn("Vault read failed, falling back to environment",
			"path", c.cfg.SecretPath,
			"error", err)
		return ""
	}
	if secret == nil || secret.Data == nil {
		return ""
	}

	// KV v2 wraps the payload in a nested "data" map
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		data = secret.Data
	}
	if v, ok := data[provider+"_api_key"].(string); ok {
		return v
	}
	return ""
}
