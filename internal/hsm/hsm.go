package hsm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"regexp"

	"golang.org/x/crypto/argon2"
)

const nonceSize = 12

var validKeyID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// HSMInterface seals secrets at rest. keyID binds a sealed blob to its owner.
type HSMInterface interface {
	EncryptData(keyID string, plaintext []byte) ([]byte, error)
	DecryptData(keyID string, ciphertext []byte) ([]byte, error)
}

// HSMServer is a software vault keyed by an argon2id-derived master key
type HSMServer struct {
	masterKey   []byte
	auditLogger *AuditLogger
}

// Config holds HSM configuration
type Config struct {
	MasterKey   string
	Salt        []byte
	AuditLogger *AuditLogger
}

// InitHSM derives the master key and returns a ready vault
func InitHSM(config Config) (*HSMServer, error) {
	if config.MasterKey == "" {
		return nil, errors.New("master key required")
	}
	if len(config.Salt) < 8 {
		return nil, errors.New("salt of at least 8 bytes required")
	}

	return &HSMServer{
		masterKey:   deriveKey(config.MasterKey, config.Salt, 32),
		auditLogger: config.AuditLogger,
	}, nil
}

// EncryptData encrypts data using AES-GCM. Output is nonce || ciphertext.
func (h *HSMServer) EncryptData(keyID string, plaintext []byte) ([]byte, error) {
	if err := validateKeyID(keyID); err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := h.gcm()
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, []byte(keyID))
	h.auditLogger.LogOperation("", keyID, "SECRET_SEALED", "merchant secret sealed")
	return sealed, nil
}

// DecryptData decrypts AES-GCM encrypted data sealed for keyID
func (h *HSMServer) DecryptData(keyID string, ciphertext []byte) ([]byte, error) {
	if err := validateKeyID(keyID); err != nil {
		return nil, err
	}
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	gcm, err := h.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], []byte(keyID))
	if err != nil {
		h.auditLogger.LogError("", keyID, err)
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

func (h *HSMServer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(h.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func deriveKey(password string, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, 3, 32*1024, 4, keyLen)
}

func validateKeyID(keyID string) error {
	if keyID == "" {
		return errors.New("key ID cannot be empty")
	}
	if !validKeyID.MatchString(keyID) {
		return errors.New("key ID contains invalid characters")
	}
	return nil
}
