package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Control ControlConfig `yaml:"control"`
	Player  PlayerConfig  `yaml:"player"`
	Poll    PollConfig    `yaml:"poll"`
}

// ServerConfig は操作卓APIサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// ControlConfig は配信制御サーバー（外部コラボレーター）への接続設定
type ControlConfig struct {
	BaseURL        string        `yaml:"base_url"`        // 制御サーバーのベースURL
	RequestTimeout time.Duration `yaml:"request_timeout"` // 制御リクエストのタイムアウト
}

// PlayerConfig はストリームプレイヤーアダプターのチューニング設定
//
// 低遅延版とバッファ版の二系統のチューニングが存在するが、
// セッション状態機械はこの値に依存しない。デフォルトはバッファ版。
type PlayerConfig struct {
	HLSBaseURL    string        `yaml:"hls_base_url"`   // HLS配信のベースURL
	ProbeInterval time.Duration `yaml:"probe_interval"` // プレイリスト監視間隔
	MaxErrors     int           `yaml:"max_errors"`     // 連続エラーの許容回数
}

// PollConfig はステータスポーラーの設定
type PollConfig struct {
	Interval time.Duration `yaml:"interval"` // ポーリング間隔
}

// Load は設定を読み込む
// 環境変数が設定されていない項目はデフォルト値を使用する
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsIntOrDefault("PORT", 8080),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Control: ControlConfig{
			BaseURL:        getEnvOrDefault("CONTROL_BASE_URL", "http://127.0.0.1:5000"),
			RequestTimeout: 15 * time.Second,
		},
		Player: PlayerConfig{
			HLSBaseURL:    getEnvOrDefault("HLS_BASE_URL", ""),
			ProbeInterval: 2 * time.Second,
			MaxErrors:     3,
		},
		Poll: PollConfig{
			Interval: time.Duration(getEnvAsIntOrDefault("POLL_INTERVAL_SECONDS", 3)) * time.Second,
		},
	}

	// HLSベースURL未指定時は制御サーバーと同じホストから配信されているとみなす
	if cfg.Player.HLSBaseURL == "" {
		cfg.Player.HLSBaseURL = cfg.Control.BaseURL
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// 制御サーバー設定の検証
	if !strings.HasPrefix(c.Control.BaseURL, "http://") && !strings.HasPrefix(c.Control.BaseURL, "https://") {
		return fmt.Errorf("無効な制御サーバーURL: %s", c.Control.BaseURL)
	}

	// ポーリング間隔の検証
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("無効なポーリング間隔: %v", c.Poll.Interval)
	}

	// プレイヤー設定の検証
	if c.Player.ProbeInterval <= 0 {
		return fmt.Errorf("無効なプレイリスト監視間隔: %v", c.Player.ProbeInterval)
	}
	if c.Player.MaxErrors < 1 {
		return fmt.Errorf("無効な連続エラー許容回数: %d", c.Player.MaxErrors)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
