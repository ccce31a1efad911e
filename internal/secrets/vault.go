// Package secrets loads signing-key material from Vault when configured,
// falling back to file-based config so local/dev setups need nothing
// beyond the PEM paths already named in config.json.
package secrets

import (
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
)

// Manager wraps a Vault client scoped to KV v2 secret reads.
type Manager struct {
	client *api.Client
}

// NewManager builds a Manager pointed at address and authenticated with
// token.
func NewManager(address, token string) (*Manager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: init vault client: %w", err)
	}
	client.SetToken(token)

	return &Manager{client: client}, nil
}

// FromEnvironment builds a Manager from VAULT_ADDR/VAULT_TOKEN, reporting
// ok=false (and a nil Manager) if either is unset — the caller's signal
// to fall back to file-based config.
func FromEnvironment() (mgr *Manager, ok bool, err error) {
	addr := os.Getenv("VAULT_ADDR")
	token := os.Getenv("VAULT_TOKEN")
	if addr == "" || token == "" {
		return nil, false, nil
	}
	mgr, err = NewManager(addr, token)
	if err != nil {
		return nil, false, err
	}
	return mgr, true, nil
}

// GetKV2 reads path from a KV v2 mount and returns the unwrapped "data"
// map.
func (m *Manager) GetKV2(path string) (map[string]interface{}, error) {
	secret, err := m.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secrets: no data at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("secrets: unexpected kv2 envelope at %s", path)
	}
	return data, nil
}

// ECPrivateKeyPEM reads the "private_key" field at path as a PEM string.
func (m *Manager) ECPrivateKeyPEM(path string) (string, error) {
	data, err := m.GetKV2(path)
	if err != nil {
		return "", err
	}
	pem, ok := data["private_key"].(string)
	if !ok {
		return "", fmt.Errorf("secrets: %s missing string field private_key", path)
	}
	return pem, nil
}

// ECPublicKeyPEM reads the "public_key" field at path as a PEM string.
func (m *Manager) ECPublicKeyPEM(path string) (string, error) {
	data, err := m.GetKV2(path)
	if err != nil {
		return "", err
	}
	pem, ok := data["public_key"].(string)
	if !ok {
		return "", fmt.Errorf("secrets: %s missing string field public_key", path)
	}
	return pem, nil
}
