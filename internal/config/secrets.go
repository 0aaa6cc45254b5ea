package config

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const secretsService = "echotrain"

// errSecretNotFound is returned by Keychain.Get for a missing entry.
var errSecretNotFound = errors.New("secret not found")

// Keychain stores secrets outside the config file.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// fileKeychain keeps secrets in a 0600 JSON file under the data directory.
type fileKeychain struct {
	mu   sync.Mutex
	path string
}

// NewKeychain returns the secrets file keychain at
// $XDG_DATA_HOME/echotrain/secrets.json.
func NewKeychain() Keychain {
	return &fileKeychain{path: secretsFilePath()}
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "echotrain", "secrets.json")
}

func (k *fileKeychain) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(k.path)
	if os.IsNotExist(err) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if secrets == nil {
		secrets = map[string]map[string]string{}
	}
	return secrets, nil
}

func (k *fileKeychain) Get(service, account string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	secrets, err := k.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", service, account, errSecretNotFound)
	}
	return val, nil
}

func (k *fileKeychain) Set(service, account, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	secrets, err := k.read()
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(k.path, out, 0o600)
}

// GetAPIToken returns the bearer token for the management API, generating
// and storing one on first use. ECHOTRAIN_API_TOKEN overrides the stored value.
func GetAPIToken(kc Keychain) (string, error) {
	return token(kc, "api_token", "ECHOTRAIN_API_TOKEN")
}

// GetCallbackToken returns the bearer token the trainer must present on
// status callbacks. ECHOTRAIN_CALLBACK_TOKEN overrides the stored value.
func GetCallbackToken(kc Keychain) (string, error) {
	return token(kc, "callback_token", "ECHOTRAIN_CALLBACK_TOKEN")
}

func token(kc Keychain, account, env string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	v, err := kc.Get(secretsService, account)
	if err == nil && v != "" {
		return v, nil
	}
	if err != nil && !errors.Is(err, errSecretNotFound) {
		return "", err
	}

	v = rand.Text()
	if err := kc.Set(secretsService, account, v); err != nil {
		return "", fmt.Errorf("storing %s: %w", account, err)
	}
	return v, nil
}
