package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

// APIV3KeySize is the length of the merchant APIv3 key in bytes.
const APIV3KeySize = 32

var ErrInvalidAPIV3Key = errors.New("APIv3 key must be 32 bytes")

// DecryptAES256GCM opens an AEAD_AES_256_GCM payload as used by the gateway
// for platform certificates and notifications. ciphertext is base64 and
// includes the 16 byte tag.
func DecryptAES256GCM(key []byte, associatedData, nonce, ciphertext string) ([]byte, error) {
	if len(key) != APIV3KeySize {
		return nil, ErrInvalidAPIV3Key
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	gcm, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, []byte(nonce), raw, []byte(associatedData))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptAES256GCM is the inverse of DecryptAES256GCM. The gateway never
// needs it; it exists so tests and local mocks can produce encrypted payloads.
func EncryptAES256GCM(key []byte, associatedData, nonce string, plaintext []byte) (string, error) {
	if len(key) != APIV3KeySize {
		return "", ErrInvalidAPIV3Key
	}

	gcm, err := newGCM(key, len(nonce))
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, []byte(nonce), plaintext, []byte(associatedData))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if nonceSize == 0 {
		return nil, errors.New("empty nonce")
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}
