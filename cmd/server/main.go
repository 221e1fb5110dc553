package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"digitbot/internal/api"
	"digitbot/internal/bot"
	"digitbot/internal/config"
	"digitbot/internal/control"
	"digitbot/internal/journal"
	"digitbot/internal/models"
	"digitbot/internal/repository"
	"digitbot/internal/websocket"
	"digitbot/pkg/crypto"
	"digitbot/pkg/retry"
	"digitbot/pkg/utils"
)

// storage - выбранный бэкенд состояния и истории сделок
type storage struct {
	state  bot.StateStore
	trades interface {
		bot.TradeRecorder
		Recent(ctx context.Context, limit int) ([]*models.TradeRecord, error)
	}
	close func() error
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer log.Sync()

	store, err := initStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to init storage", zap.Error(err))
	}
	defer store.close()

	var sealer *crypto.Sealer
	if cfg.Security.EncryptionKey != "" {
		sealer, err = crypto.NewSealer([]byte(cfg.Security.EncryptionKey))
		if err != nil {
			log.Fatal("invalid encryption key", zap.Error(err))
		}
	}
	creds := repository.NewCredentialStore(cfg.Storage.CredentialFile, sealer)

	tradeJournal, err := journal.Open(cfg.Storage.TradeLogFile, true)
	if err != nil {
		log.Fatal("failed to open trade journal", zap.Error(err), zap.String("path", cfg.Storage.TradeLogFile))
	}
	defer tradeJournal.Close()

	flag := control.NewFlag(cfg.Storage.ControlFile)

	hub := websocket.NewHub(log)
	go hub.Run()

	engine := bot.NewEngine(cfg.Trading, cfg.Deriv.RequestTimeout, bot.EngineDeps{
		Store:   store.state,
		Trades:  store.trades,
		Flag:    flag,
		Journal: tradeJournal,
		Hub:     hub,
		Logger:  log,
	})
	engine.Restore(context.Background())

	controller := bot.NewController(cfg, bot.ControllerDeps{
		Engine:      engine,
		Credentials: creds,
		Flag:        flag,
		Journal:     tradeJournal,
		Hub:         hub,
		Logger:      log,
	})

	if cfg.Trading.AutoResume {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Deriv.ConnectTimeout+5*time.Second)
		if err := controller.ResumeSaved(ctx); err != nil {
			log.Warn("auto resume skipped", zap.Error(err))
		}
		cancel()
	}

	router := api.SetupRoutes(&api.Dependencies{
		Session:     controller,
		Flag:        flag,
		Trades:      store.trades,
		Stream:      hub.ServeWS,
		Security:    cfg.Security,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log,
	})

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		log.Info("starting server", zap.String("addr", server.Addr), zap.String("market", cfg.Trading.Market))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Сессия закрывается первой: цикл в работе доводится, состояние сохраняется
	controller.Shutdown(ctx)

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	hub.Stop()

	log.Info("server exited")
}

// initStorage выбирает бэкенд по STATE_BACKEND
func initStorage(cfg *config.Config, log *utils.Logger) (*storage, error) {
	if cfg.Storage.Backend != "postgres" {
		log.Info("using file state backend", zap.String("path", cfg.Storage.StateFile))
		return &storage{
			state:  repository.NewFileStateStore(cfg.Storage.StateFile),
			trades: repository.NewTradeBuffer(0),
			close:  func() error { return nil },
		}, nil
	}

	db, err := initDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repository.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &storage{
		state:  repository.NewStateRepository(db),
		trades: repository.NewTradeRepository(db),
		close:  db.Close,
	}, nil
}

// initDatabase создает подключение к базе данных
//
// База может подниматься вместе с ботом (docker compose), поэтому
// ping повторяется с backoff.
func initDatabase(cfg *config.Config, log *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений (одна сделка в момент времени)
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = 6
	retryCfg.InitialDelay = 500 * time.Millisecond
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("database not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	err = retry.Do(ctx, func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		return db.PingContext(pingCtx)
	}, retryCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))
	return db, nil
}
