// Package credentials stores provider API keys in the OS keyring under the
// service "siteagent", keyed as provider.apikey.<id>.
package credentials

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "siteagent"

// apiKeyName returns the keyring user for a provider's API key.
func apiKeyName(providerID string) string {
	return "provider.apikey." + strings.ToLower(strings.TrimSpace(providerID))
}

// Resolve returns the configured key when set, else the keyring entry.
// A missing keyring entry yields "", nil so callers surface not_configured.
func Resolve(providerID, configured string) (string, error) {
	if k := strings.TrimSpace(configured); k != "" {
		return k, nil
	}
	return LoadAPIKey(providerID)
}

// LoadAPIKey reads a provider API key from the keyring.
func LoadAPIKey(providerID string) (string, error) {
	key, err := keyring.Get(keyringService, apiKeyName(providerID))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load API key for provider %s: %w", providerID, err)
	}
	return strings.TrimSpace(key), nil
}

// SaveAPIKey stores a provider API key in the keyring.
func SaveAPIKey(providerID, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty API key for provider %s", providerID)
	}
	if err := keyring.Set(keyringService, apiKeyName(providerID), key); err != nil {
		return fmt.Errorf("save API key for provider %s: %w", providerID, err)
	}
	return nil
}

// DeleteAPIKey removes a stored key. Deleting a missing key is not an error.
func DeleteAPIKey(providerID string) error {
	err := keyring.Delete(keyringService, apiKeyName(providerID))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete API key for provider %s: %w", providerID, err)
	}
	return nil
}
