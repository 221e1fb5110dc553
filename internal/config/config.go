package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Deriv    DerivConfig
	Trading  TradingConfig
	Storage  StorageConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера управления
type ServerConfig struct {
	Port        int
	Host        string
	// дополнительные origin для CORS через запятую
	CORSOrigins string
}

// DatabaseConfig - настройки подключения к БД (только для STATE_BACKEND=postgres)
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// bcrypt хеш пароля администратора для HTTP API (пусто = без авторизации)
	AdminUser         string
	AdminPasswordHash string
	// ключ AES-256 для хранения токена площадки (пусто = токен не сохраняется)
	EncryptionKey string
}

// DerivConfig - параметры соединения с площадкой
type DerivConfig struct {
	Endpoint string // wss://ws.derivws.com/websockets/v3
	AppID    string
	APIToken string // токен по умолчанию, если старт без токена

	ConnectTimeout     time.Duration
	PingInterval       time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	RequestTimeout     time.Duration

	// ограничение частоты исходящих запросов (0 = без ограничения)
	RequestRate  float64
	RequestBurst float64
}

// TradingConfig - торговые параметры (неизменны на время жизни процесса)
type TradingConfig struct {
	Market           string
	Currency         string
	ContractType     string
	BaseStake        float64
	MartingaleFactor float64
	Prediction       int // барьер-цифра
	Duration         int
	DurationUnit     string
	VirtualLossLimit int
	Cooldown         time.Duration
	ProfitTarget     float64 // 0 = без цели
	DrawdownLimit    float64 // 0 = без ограничения
	// доля баланса, выше которой ставка считается слишком большой
	MaxStakeBalanceRatio   float64
	SettlementPollInterval time.Duration
	TickWatchdog           time.Duration
	AutoResume             bool
}

// StorageConfig - хранение состояния и журнала
type StorageConfig struct {
	Backend           string // file, postgres
	StateFile         string
	ControlFile       string
	TradeLogFile      string
	CredentialFile    string // зашифрованный токен для AUTO_RESUME
	StateSaveInterval time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("PORT", 3000),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),

			CORSOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "digitbot"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			AdminUser:         getEnv("ADMIN_USER", "admin"),
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
			EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
		},
		Deriv: DerivConfig{
			Endpoint: getEnv("DERIV_ENDPOINT", "wss://ws.derivws.com/websockets/v3"),
			AppID:    getEnv("DERIV_APP_ID", ""),
			APIToken: getEnv("DERIV_API_TOKEN", ""),

			ConnectTimeout:     getEnvAsDuration("WS_CONNECT_TIMEOUT", 10*time.Second),
			PingInterval:       getEnvAsDuration("WS_PING_INTERVAL", 30*time.Second),
			ReconnectBaseDelay: getEnvAsDuration("RECONNECT_BASE_DELAY", 2*time.Second),
			ReconnectMaxDelay:  getEnvAsDuration("RECONNECT_MAX_DELAY", 60*time.Second),
			RequestTimeout:     getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),

			RequestRate:  getEnvAsFloat("REQUEST_RATE", 5),
			RequestBurst: getEnvAsFloat("REQUEST_BURST", 10),
		},
		Trading: TradingConfig{
			Market:                 getEnv("MARKET", "R_50"),
			Currency:               getEnv("CURRENCY", "USD"),
			ContractType:           getEnv("CONTRACT_TYPE", "DIGITOVER"),
			BaseStake:              getEnvAsFloat("BASE_STAKE", 0.35),
			MartingaleFactor:       getEnvAsFloat("MARTINGALE_FACTOR", 2.2),
			Prediction:             getEnvAsInt("PREDICTION", 4),
			Duration:               getEnvAsInt("DURATION", 1),
			DurationUnit:           getEnv("DURATION_UNIT", "t"),
			VirtualLossLimit:       getEnvAsInt("VIRTUAL_LOSS_LIMIT", 2),
			Cooldown:               getEnvAsDuration("COOLDOWN", 2*time.Second),
			ProfitTarget:           getEnvAsFloat("PROFIT_TARGET", 100),
			DrawdownLimit:          getEnvAsFloat("DRAWDOWN_LIMIT", 10999),
			MaxStakeBalanceRatio:   getEnvAsFloat("MAX_STAKE_BALANCE_RATIO", 0.9),
			SettlementPollInterval: getEnvAsDuration("SETTLEMENT_POLL_INTERVAL", 1*time.Second),
			TickWatchdog:           getEnvAsDuration("TICK_WATCHDOG", 30*time.Second),
			AutoResume:             getEnvAsBool("AUTO_RESUME", false),
		},
		Storage: StorageConfig{
			Backend:           strings.ToLower(getEnv("STATE_BACKEND", "file")),
			StateFile:         getEnv("STATE_FILE", "./state.json"),
			ControlFile:       getEnv("CONTROL_FILE", "./control.json"),
			TradeLogFile:      getEnv("TRADE_LOG", "./logs/trades.log"),
			CredentialFile:    getEnv("CREDENTIAL_FILE", "./session.key"),
			StateSaveInterval: getEnvAsDuration("STATE_SAVE_INTERVAL", 15*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Security.EncryptionKey != "" && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if c.Trading.AutoResume && c.Security.EncryptionKey == "" {
		return fmt.Errorf("AUTO_RESUME requires ENCRYPTION_KEY to store the session token")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Storage.Backend != "file" && c.Storage.Backend != "postgres" {
		return fmt.Errorf("STATE_BACKEND must be file or postgres, got %q", c.Storage.Backend)
	}

	if c.Storage.Backend == "postgres" && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Trading.BaseStake <= 0 {
		return fmt.Errorf("BASE_STAKE must be positive, got %v", c.Trading.BaseStake)
	}

	if c.Trading.MartingaleFactor < 1 {
		return fmt.Errorf("MARTINGALE_FACTOR must be >= 1, got %v", c.Trading.MartingaleFactor)
	}

	if c.Trading.Prediction < 0 || c.Trading.Prediction > 9 {
		return fmt.Errorf("PREDICTION must be a digit 0-9, got %d", c.Trading.Prediction)
	}

	if c.Trading.Duration <= 0 {
		return fmt.Errorf("DURATION must be positive, got %d", c.Trading.Duration)
	}

	if c.Trading.VirtualLossLimit < 0 {
		return fmt.Errorf("VIRTUAL_LOSS_LIMIT cannot be negative, got %d", c.Trading.VirtualLossLimit)
	}

	if c.Trading.ProfitTarget < 0 || c.Trading.DrawdownLimit < 0 {
		return fmt.Errorf("PROFIT_TARGET and DRAWDOWN_LIMIT cannot be negative")
	}

	if c.Trading.MaxStakeBalanceRatio <= 0 || c.Trading.MaxStakeBalanceRatio > 1 {
		return fmt.Errorf("MAX_STAKE_BALANCE_RATIO must be in (0, 1], got %v", c.Trading.MaxStakeBalanceRatio)
	}

	if c.Trading.SettlementPollInterval <= 0 {
		return fmt.Errorf("SETTLEMENT_POLL_INTERVAL must be positive, got %v", c.Trading.SettlementPollInterval)
	}

	if c.Deriv.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %v", c.Deriv.RequestTimeout)
	}

	if c.Deriv.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("RECONNECT_BASE_DELAY must be positive, got %v", c.Deriv.ReconnectBaseDelay)
	}

	if c.Deriv.ReconnectMaxDelay < c.Deriv.ReconnectBaseDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY (%v) must not be below RECONNECT_BASE_DELAY (%v)",
			c.Deriv.ReconnectMaxDelay, c.Deriv.ReconnectBaseDelay)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// URL возвращает полный адрес websocket площадки с app_id
func (d DerivConfig) URL() string {
	if d.AppID == "" {
		return d.Endpoint
	}
	sep := "?"
	if strings.Contains(d.Endpoint, "?") {
		sep = "&"
	}
	return d.Endpoint + sep + "app_id=" + d.AppID
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration принимает "2s", "1m" или число секунд ("2")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
