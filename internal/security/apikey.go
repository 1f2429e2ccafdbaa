package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	APIKeyPrefix    = "kp_live_"
	SecretKeyPrefix = "sk_live_"
)

// GenerateAPIKey returns a new plaintext API key and the hash to store
func GenerateAPIKey() (plain string, hash string, err error) {
	token, err := randomHex(32)
	if err != nil {
		return "", "", err
	}
	plain = APIKeyPrefix + token
	return plain, HashAPIKey(plain), nil
}

// GenerateSecretKey returns a new merchant signing secret
func GenerateSecretKey() (string, error) {
	token, err := randomHex(32)
	if err != nil {
		return "", err
	}
	return SecretKeyPrefix + token, nil
}

// HashAPIKey is the lookup form of an API key
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
