package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Trading.Market != "R_50" {
		t.Errorf("Market = %q, want R_50", cfg.Trading.Market)
	}
	if cfg.Trading.BaseStake != 0.35 {
		t.Errorf("BaseStake = %v, want 0.35", cfg.Trading.BaseStake)
	}
	if cfg.Trading.MartingaleFactor != 2.2 {
		t.Errorf("MartingaleFactor = %v, want 2.2", cfg.Trading.MartingaleFactor)
	}
	if cfg.Deriv.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.Deriv.RequestTimeout)
	}
	if cfg.Trading.SettlementPollInterval != time.Second {
		t.Errorf("SettlementPollInterval = %v, want 1s", cfg.Trading.SettlementPollInterval)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Backend = %q, want file", cfg.Storage.Backend)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("MARKET", "R_100")
	t.Setenv("BASE_STAKE", "1.5")
	t.Setenv("COOLDOWN", "5")
	t.Setenv("RECONNECT_MAX_DELAY", "2m")
	t.Setenv("STATE_BACKEND", "POSTGRES")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Trading.Market != "R_100" {
		t.Errorf("Market = %q", cfg.Trading.Market)
	}
	if cfg.Trading.BaseStake != 1.5 {
		t.Errorf("BaseStake = %v", cfg.Trading.BaseStake)
	}
	if cfg.Trading.Cooldown != 5*time.Second {
		t.Errorf("Cooldown = %v, want 5s (plain seconds)", cfg.Trading.Cooldown)
	}
	if cfg.Deriv.ReconnectMaxDelay != 2*time.Minute {
		t.Errorf("ReconnectMaxDelay = %v", cfg.Deriv.ReconnectMaxDelay)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("Backend = %q, want lower-cased postgres", cfg.Storage.Backend)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad port", map[string]string{"PORT": "70000"}, "PORT"},
		{"zero stake", map[string]string{"BASE_STAKE": "0"}, "BASE_STAKE"},
		{"factor below one", map[string]string{"MARTINGALE_FACTOR": "0.5"}, "MARTINGALE_FACTOR"},
		{"prediction not digit", map[string]string{"PREDICTION": "12"}, "PREDICTION"},
		{"max below base", map[string]string{"RECONNECT_BASE_DELAY": "10s", "RECONNECT_MAX_DELAY": "5s"}, "RECONNECT_MAX_DELAY"},
		{"unknown backend", map[string]string{"STATE_BACKEND": "redis"}, "STATE_BACKEND"},
		{"short key", map[string]string{"ENCRYPTION_KEY": "short"}, "ENCRYPTION_KEY"},
		{"resume without key", map[string]string{"AUTO_RESUME": "true"}, "AUTO_RESUME"},
		{"ratio above one", map[string]string{"MAX_STAKE_BALANCE_RATIO": "1.5"}, "MAX_STAKE_BALANCE_RATIO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %s", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDerivConfig_URL(t *testing.T) {
	tests := []struct {
		cfg  DerivConfig
		want string
	}{
		{DerivConfig{Endpoint: "wss://ws.example/v3", AppID: "1089"}, "wss://ws.example/v3?app_id=1089"},
		{DerivConfig{Endpoint: "wss://ws.example/v3?l=EN", AppID: "1089"}, "wss://ws.example/v3?l=EN&app_id=1089"},
		{DerivConfig{Endpoint: "ws://127.0.0.1:9000"}, "ws://127.0.0.1:9000"},
	}

	for _, tt := range tests {
		if got := tt.cfg.URL(); got != tt.want {
			t.Errorf("URL() = %q, want %q", got, tt.want)
		}
	}
}

func TestDSNWithoutPassword(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "secret", Name: "n", SSLMode: "disable"}

	if strings.Contains(d.DSNWithoutPassword(), "secret") {
		t.Error("DSNWithoutPassword leaks the password")
	}
	if !strings.Contains(d.DSN(), "password=secret") {
		t.Error("DSN should include the password")
	}
}
