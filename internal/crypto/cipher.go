package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrAuthentication reports a ciphertext whose GCM tag did not verify.
var ErrAuthentication = errors.New("crypto: message authentication failed")

// IVSize is the GCM nonce length prepended to every encrypted payload.
const IVSize = 12

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce.
// The nonce is returned separately so callers can place it wherever their
// wire format expects it.
func Encrypt(key, plaintext []byte) (ciphertext, iv []byte, err error) {
	if len(key) != SessionKeySize {
		return nil, nil, fmt.Errorf("crypto: invalid key length: got %d want %d", len(key), SessionKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("create GCM: %w", err)
	}

	iv = make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, iv, plaintext, nil)
	return ciphertext, iv, nil
}

// Decrypt opens an AES-256-GCM ciphertext. A tampered or mismatched
// ciphertext fails with ErrAuthentication.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("crypto: invalid key length: got %d want %d", len(key), SessionKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("crypto: invalid nonce length: got %d want %d", len(iv), aead.NonceSize())
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return plaintext, nil
}

// EncryptString encrypts s and packs the result as base64(iv || ciphertext),
// safe for embedding in text control messages.
func EncryptString(key []byte, s string) (string, error) {
	ciphertext, iv, err := Encrypt(key, []byte(s))
	if err != nil {
		return "", err
	}
	packed := make([]byte, 0, len(iv)+len(ciphertext))
	packed = append(packed, iv...)
	packed = append(packed, ciphertext...)
	return base64.StdEncoding.EncodeToString(packed), nil
}

// DecryptString is the inverse of EncryptString.
func DecryptString(key []byte, s string) (string, error) {
	packed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("crypto: decode encrypted string: %w", err)
	}
	if len(packed) <= IVSize {
		return "", fmt.Errorf("%w: packed string too short", ErrAuthentication)
	}
	plaintext, err := Decrypt(key, packed[:IVSize], packed[IVSize:])
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
