package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Roles carried by tokens and keys
const (
	RoleOperator = "operator"
	RoleKiosk    = "kiosk"
)

const keyPrefix = "sk_"

// APIKey authorizes a kiosk or integration to submit composites
type APIKey struct {
	Key       string     `json:"key"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// APIKeyManager holds keys in memory. Keys listed in configuration are
// loaded with Register at startup; others are minted with Generate.
type APIKeyManager struct {
	mu   sync.RWMutex
	keys map[string]*APIKey
}

func NewAPIKeyManager() *APIKeyManager {
	return &APIKeyManager{keys: make(map[string]*APIKey)}
}

// Generate mints a random key for userID with the kiosk role
func (m *APIKeyManager) Generate(userID, name string, expiresAt *time.Time) (*APIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	apiKey := &APIKey{
		Key:       keyPrefix + base64.RawURLEncoding.EncodeToString(raw),
		UserID:    userID,
		Name:      name,
		Role:      RoleKiosk,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	m.mu.Lock()
	m.keys[apiKey.Key] = apiKey
	m.mu.Unlock()
	return apiKey, nil
}

// Register adds a pre-shared key, such as one from COMPOSITOR_API_KEYS
func (m *APIKeyManager) Register(key, userID, role string) error {
	if len(key) < 8 {
		return errors.New("api key too short")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[key]; exists {
		return errors.New("api key already registered")
	}
	m.keys[key] = &APIKey{
		Key:       key,
		UserID:    userID,
		Name:      "static",
		Role:      role,
		CreatedAt: time.Now(),
	}
	return nil
}

// Verify checks key and returns its record
func (m *APIKeyManager) Verify(key string) (*APIKey, error) {
	m.mu.RLock()
	apiKey, exists := m.keys[key]
	m.mu.RUnlock()

	if !exists || subtle.ConstantTimeCompare([]byte(apiKey.Key), []byte(key)) != 1 {
		return nil, errors.New("invalid API key")
	}
	if apiKey.Revoked {
		return nil, errors.New("API key has been revoked")
	}
	if apiKey.ExpiresAt != nil && time.Now().After(*apiKey.ExpiresAt) {
		return nil, errors.New("API key has expired")
	}
	return apiKey, nil
}

func (m *APIKeyManager) Revoke(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	apiKey, exists := m.keys[key]
	if !exists {
		return errors.New("API key not found")
	}
	apiKey.Revoked = true
	return nil
}

// Count returns the number of keys that are not revoked
func (m *APIKeyManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, k := range m.keys {
		if !k.Revoked {
			n++
		}
	}
	return n
}
