// Package control - внешний флаг run/pause торговли.
//
// Флаг читается из control.json ({"run": bool}) и может быть
// переключён через HTTP API. Нечитаемый или отсутствующий файл
// означает run.
package control

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type fileContent struct {
	Run bool `json:"run"`
}

// Flag - флаг run/pause на файле control.json
type Flag struct {
	path string

	mu      sync.Mutex
	paused  bool
	fileRun bool
	modTime time.Time
	size    int64
}

// NewFlag создаёт флаг; пустой путь - только in-memory pause/resume
func NewFlag(path string) *Flag {
	return &Flag{path: path, fileRun: true}
}

// ShouldRun возвращает true если торговля разрешена
func (f *Flag) ShouldRun() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.paused {
		return false
	}
	return f.readLocked()
}

// Paused возвращает true если торговля на паузе (API или файл)
func (f *Flag) Paused() bool {
	return !f.ShouldRun()
}

// Pause ставит торговлю на паузу и записывает файл
func (f *Flag) Pause() error {
	return f.set(false)
}

// Resume снимает паузу и записывает файл
func (f *Flag) Resume() error {
	return f.set(true)
}

func (f *Flag) set(run bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.paused = !run
	f.fileRun = run
	if f.path == "" {
		return nil
	}

	data, err := json.Marshal(fileContent{Run: run})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return err
	}

	// файл перечитается только при следующем изменении
	if info, err := os.Stat(f.path); err == nil {
		f.modTime = info.ModTime()
		f.size = info.Size()
	}
	return nil
}

// readLocked перечитывает файл, если он изменился
func (f *Flag) readLocked() bool {
	if f.path == "" {
		return f.fileRun
	}

	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.fileRun = true
			f.modTime = time.Time{}
			f.size = 0
		}
		return f.fileRun
	}
	if info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return f.fileRun
	}

	f.modTime = info.ModTime()
	f.size = info.Size()

	data, err := os.ReadFile(f.path)
	if err != nil {
		f.fileRun = true
		return true
	}

	content := fileContent{Run: true}
	if err := json.Unmarshal(data, &content); err != nil {
		f.fileRun = true
		return true
	}
	f.fileRun = content.Run
	return f.fileRun
}
