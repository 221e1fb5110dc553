package repository

import (
	"errors"
	"fmt"
)

// Ошибки хранилища состояния
var (
	// ErrStateNotFound - снапшот ещё ни разу не сохранялся
	ErrStateNotFound = errors.New("trading state not found")
)

// StateIOError - ошибка чтения или записи снапшота
//
// Не фатальна: состояние в памяти остаётся главным.
type StateIOError struct {
	Op   string // load, save
	Path string // файл или таблица
	Err  error
}

func (e *StateIOError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StateIOError) Unwrap() error {
	return e.Err
}
