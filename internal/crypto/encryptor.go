// Package crypto encrypts configuration secrets at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SecretPrefix marks a configuration value as an encrypted secret.
const SecretPrefix = "enc:"

var ErrNoKey = errors.New("encrypted secret found but no encryption key is configured")

type Encryptor interface {
	Encrypt(plain string) (string, error)
	Decrypt(cipherText string) (string, error)
}

type AesGcmEncryptor struct {
	gcm cipher.AEAD
}

func NewAesGcmEncryptor(key []byte) (*AesGcmEncryptor, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AesGcmEncryptor{gcm: gcm}, nil
}

// ParseKey accepts a raw 32 byte key or its standard base64 encoding.
func ParseKey(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if len(text) == 32 {
		return []byte(text), nil
	}
	key, err := base64.StdEncoding.DecodeString(text)
	if err != nil || len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes, raw or base64")
	}
	return key, nil
}

func (e *AesGcmEncryptor) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *AesGcmEncryptor) Decrypt(cipherText string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", err
	}
	if len(data) < e.gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := data[:e.gcm.NonceSize()], data[e.gcm.NonceSize():]
	plain, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Reveal returns value unchanged unless it carries SecretPrefix, in which
// case the remainder is decrypted with enc.
func Reveal(enc Encryptor, value string) (string, error) {
	if !strings.HasPrefix(value, SecretPrefix) {
		return value, nil
	}
	if enc == nil {
		return "", ErrNoKey
	}
	plain, err := enc.Decrypt(strings.TrimPrefix(value, SecretPrefix))
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return plain, nil
}

// Seal encrypts plain and adds SecretPrefix so Reveal can recognise it.
func Seal(enc Encryptor, plain string) (string, error) {
	sealed, err := enc.Encrypt(plain)
	if err != nil {
		return "", err
	}
	return SecretPrefix + sealed, nil
}
