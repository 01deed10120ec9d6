package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Iterations follows the OWASP recommendation for PBKDF2-SHA256.
const pbkdf2Iterations = 100000

// aesKeySize is the key length for AES-256.
const aesKeySize = 32

// EncryptionManager encrypts and decrypts backup archives with AES-256-GCM.
// The nonce is prepended to the ciphertext.
type EncryptionManager struct {
	config *EncryptionConfig
}

// NewEncryptionManager creates an encryption manager.
func NewEncryptionManager(config *EncryptionConfig) *EncryptionManager {
	if config == nil {
		config = &EncryptionConfig{}
	}
	return &EncryptionManager{config: config}
}

// IsEnabled reports whether encryption is configured.
func (em *EncryptionManager) IsEnabled() bool {
	return em.config.Enabled
}

// Algorithm names the cipher in use.
func (em *EncryptionManager) Algorithm() string {
	if !em.config.Enabled {
		return "NONE"
	}
	return "AES-256-GCM"
}

// Encrypt seals data. Disabled encryption passes the data through.
func (em *EncryptionManager) Encrypt(data []byte) ([]byte, error) {
	if !em.config.Enabled {
		return data, nil
	}

	gcm, err := em.cipher()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewEncryptionError("failed to generate nonce", err)
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data sealed by Encrypt.
func (em *EncryptionManager) Decrypt(encrypted []byte) ([]byte, error) {
	if !em.config.Enabled {
		return encrypted, nil
	}

	gcm, err := em.cipher()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(encrypted) < nonceSize {
		return nil, NewEncryptionError("encrypted data too short", nil)
	}
	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt data", err)
	}
	return plaintext, nil
}

func (em *EncryptionManager) cipher() (cipher.AEAD, error) {
	key, err := em.config.GetEncryptionKey()
	if err != nil {
		return nil, NewEncryptionError("failed to load encryption key", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

// KeyManager generates, derives, loads and validates AES-256 keys.
type KeyManager struct {
	config *EncryptionConfig
}

// NewKeyManager creates a key manager.
func NewKeyManager(config *EncryptionConfig) *KeyManager {
	return &KeyManager{config: config}
}

// GenerateKey produces a fresh random 256-bit key.
func (km *KeyManager) GenerateKey() ([]byte, error) {
	key := make([]byte, aesKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

// DeriveKey derives a key from a password with PBKDF2-SHA256.
func (km *KeyManager) DeriveKey(password string, salt []byte) []byte {
	if len(salt) == 0 {
		salt = make([]byte, aesKeySize)
		rand.Read(salt)
	}
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeySize, sha256.New)
}

// SaveKeyToFile writes a key with owner-only permissions.
func (km *KeyManager) SaveKeyToFile(key []byte, path string) error {
	if err := km.ValidateKey(key); err != nil {
		return err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return NewEncryptionError("failed to save key to file", err)
	}
	return nil
}

// LoadKeyFromFile reads a raw 32-byte key file.
func (km *KeyManager) LoadKeyFromFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEncryptionError("failed to read key file", err)
	}
	if len(key) != aesKeySize {
		return nil, NewEncryptionError("key file must contain 32 bytes for AES-256", nil)
	}
	return key, nil
}

// LoadKeyFromEnv reads a hex-encoded key from an environment variable.
func (km *KeyManager) LoadKeyFromEnv(envVar string) ([]byte, error) {
	hexKey := os.Getenv(envVar)
	if hexKey == "" {
		return nil, NewEncryptionError(fmt.Sprintf("environment variable %s not set", envVar), nil)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, NewEncryptionError("failed to decode hex key from environment", err)
	}
	if len(key) != aesKeySize {
		return nil, NewEncryptionError("key from environment must be 32 bytes for AES-256", nil)
	}
	return key, nil
}

// ValidateKey rejects keys of the wrong size and trivially weak keys.
func (km *KeyManager) ValidateKey(key []byte) error {
	if len(key) != aesKeySize {
		return NewEncryptionError("key must be 32 bytes for AES-256", nil)
	}
	allZeros, allOnes := true, true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}
	if allZeros {
		return NewEncryptionError("key cannot be all zeros", nil)
	}
	if allOnes {
		return NewEncryptionError("key cannot be all ones", nil)
	}
	return nil
}
