// Package journal пишет журнал торговли: одна строка с меткой времени
// на событие, в файл и в stdout.
package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"digitbot/internal/models"
)

// Journal - append-only журнал тиков, сделок и событий сессии
type Journal struct {
	log  *zap.Logger
	file *os.File
}

// Open открывает журнал по пути (каталог создаётся) с копией в stdout
//
// Пустой путь означает только stdout.
func Open(path string, echo bool) (*Journal, error) {
	var sinks []zapcore.WriteSyncer
	var file *os.File

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		file = f
		sinks = append(sinks, zapcore.AddSync(f))
	}
	if echo || path == "" {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}

	j := New(zapcore.NewMultiWriteSyncer(sinks...))
	j.file = file
	return j, nil
}

// New создаёт журнал поверх произвольного writer'а
func New(w io.Writer) *Journal {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "",
		NameKey:        "",
		CallerKey:      "",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Journal{log: zap.New(core)}
}

// Tick записывает обработанный тик
func (j *Journal) Tick(symbol string, price float64, digit int) {
	j.log.Info("[TICK] "+symbol,
		zap.Float64("price", price),
		zap.Int("digit", digit))
}

// Trade записывает рассчитанную сделку
func (j *Journal) Trade(rec *models.TradeRecord) {
	j.log.Info(fmt.Sprintf("[TRADE] %s contract %d", rec.Result, rec.ContractID),
		zap.Float64("stake", rec.Stake),
		zap.Float64("profit", rec.Profit),
		zap.Int("barrier", rec.Barrier),
		zap.Duration("held", rec.SettledAt.Sub(rec.PurchasedAt)))
}

// Event записывает событие сессии (SESSION, RISK, SKIP, ERROR, ...)
func (j *Journal) Event(kind, message string, fields ...zap.Field) {
	j.log.Info("["+kind+"] "+message, fields...)
}

// Close сбрасывает буферы и закрывает файл
func (j *Journal) Close() error {
	_ = j.log.Sync()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}
