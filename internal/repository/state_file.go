package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"digitbot/internal/models"
)

// FileStateStore - снапшот TradingState в JSON файле
//
// Запись атомарная: временный файл рядом с целевым и rename.
type FileStateStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStateStore создает хранилище по пути к файлу
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Path возвращает путь к файлу снапшота
func (s *FileStateStore) Path() string {
	return s.path
}

// Load читает снапшот; отсутствие файла - ErrStateNotFound
func (s *FileStateStore) Load(ctx context.Context) (*models.TradingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrStateNotFound
		}
		return nil, &StateIOError{Op: "load", Path: s.path, Err: err}
	}

	state := &models.TradingState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, &StateIOError{Op: "load", Path: s.path, Err: err}
	}
	return state, nil
}

// Save записывает снапшот
func (s *FileStateStore) Save(ctx context.Context, state *models.TradingState) error {
	if err := ctx.Err(); err != nil {
		return &StateIOError{Op: "save", Path: s.path, Err: err}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &StateIOError{Op: "save", Path: s.path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return &StateIOError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

// writeFileAtomic пишет данные во временный файл и переименовывает его
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
