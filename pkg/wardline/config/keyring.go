// Package config – keyring.go stores provider credentials in the operating
// system's native keyring (Linux: Secret Service/GNOME Keyring, macOS:
// Keychain, Windows: Credential Manager).
//
// Priority for resolving secrets:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (WARDLINE_AGENT_API_KEY, OPENAI_API_KEY, etc.)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (least secure — plaintext on disk)
package config

import "github.com/zalando/go-keyring"

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "wardline"

	// keyringAgentKey is the key name for the LLM API key.
	keyringAgentKey = "agent_api_key"

	// keyringTTSKey is the key name for the speech synthesis API key.
	keyringTTSKey = "tts_api_key"

	// keyringSTTKey is the key name for the speech recognition API key.
	keyringSTTKey = "stt_api_key"

	// keyringTelephonyToken is the key name for the telephony auth token.
	keyringTelephonyToken = "telephony_auth_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__wardline_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// KeyNames exported for the setup command.
const (
	KeyAgentAPIKey        = keyringAgentKey
	KeyTTSAPIKey          = keyringTTSKey
	KeySTTAPIKey          = keyringSTTKey
	KeyTelephonyAuthToken = keyringTelephonyToken
)
