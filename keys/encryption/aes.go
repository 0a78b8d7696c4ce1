package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// AESCrypter seals messages with AES-GCM, prefixing each ciphertext with its nonce.
type AESCrypter struct {
	gcm cipher.AEAD
}

func NewAESCrypter(key []byte) (*AESCrypter, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(c)
	if err != nil {
		return nil, err
	}

	return &AESCrypter{gcm}, nil
}

func (s *AESCrypter) Encrypt(message []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return s.gcm.Seal(nonce, nonce, message, nil), nil
}

func (s *AESCrypter) Decrypt(encrypted []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(encrypted) < nonceSize {
		return nil, fmt.Errorf("message too short")
	}

	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]

	return s.gcm.Open(nil, nonce, ciphertext, nil)
}
