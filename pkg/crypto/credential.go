package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
)

// KeySize - длина ключа AES-256
const KeySize = 32

// Sealer шифрует токен доступа к площадке для хранения вместе с
// состоянием (AES-256-GCM, nonce в начале шифротекста, base64).
//
// Используется для AUTO_RESUME: после перезапуска процесса последний
// токен расшифровывается и сессия поднимается без повторного OAuth.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer создаёт Sealer из 32-байтного ключа
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Sealer{gcm: gcm}, nil
}

// Seal шифрует токен и возвращает base64 строку
func (s *Sealer) Seal(token string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := s.gcm.Seal(nonce, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает строку, полученную из Seal
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := s.gcm.NonceSize()
	if len(raw) < nonceSize+s.gcm.Overhead() {
		return "", ErrCiphertextTooShort
	}

	nonce, data := raw[:nonceSize], raw[nonceSize:]
	plain, err := s.gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plain), nil
}
