package repository

import (
	"context"
	"errors"
	"os"
	"strings"

	"digitbot/pkg/crypto"
)

// CredentialStore - токен площадки, зашифрованный на диске
//
// Используется для AUTO_RESUME. Без Sealer токен не сохраняется:
// Save и Clear ничего не делают, Load возвращает пустую строку.
type CredentialStore struct {
	path   string
	sealer *crypto.Sealer
}

// NewCredentialStore создает хранилище; sealer == nil отключает хранение
func NewCredentialStore(path string, sealer *crypto.Sealer) *CredentialStore {
	return &CredentialStore{path: path, sealer: sealer}
}

// Enabled возвращает true если токен действительно сохраняется
func (s *CredentialStore) Enabled() bool {
	return s.sealer != nil && s.path != ""
}

// Save шифрует и записывает токен
func (s *CredentialStore) Save(ctx context.Context, token string) error {
	if !s.Enabled() {
		return nil
	}

	sealed, err := s.sealer.Seal(token)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, []byte(sealed), 0o600)
}

// Load читает и расшифровывает токен; отсутствие файла - пустая строка
func (s *CredentialStore) Load(ctx context.Context) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	return s.sealer.Open(strings.TrimSpace(string(data)))
}

// Clear удаляет сохранённый токен
func (s *CredentialStore) Clear(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
