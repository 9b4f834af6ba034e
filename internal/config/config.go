// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// Telegram設定
	BotToken        string // Telegram Bot のAPIトークン
	ChannelUsername string // 購読チェック対象のチャンネル（@付き）
	WebhookURL      string // Telegram に登録する公開WebhookのURL

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// キャッシュ設定
	RedisURL string // アーティファクト/レイアウトキャッシュ用Redis接続URL

	// 抽出ワーカー設定
	PythonPath      string // ワーカーランタイムのパス
	ProcessorScript string // 抽出プロセッサスクリプトのパス
	OutputDir       string // 抽出成果物の出力ディレクトリ

	// ジョブ/キュー設定
	ListTimeoutSeconds  int // list / metadata ジョブのデッドライン（秒）
	DumpTimeoutSeconds  int // dump ジョブのデッドライン（秒）
	QueueSweepSeconds   int // キュー滞留監視の間隔（秒）
	MaxQueueHoldSeconds int // 先頭チケットの最大保持時間（秒）

	// 配信リトライ設定
	MaxUploadRetries     int // アップロード失敗時の最大試行回数
	RetryIntervalSeconds int // RetryAfterが無い場合の待機秒数

	// 管理エンドポイント設定
	StatsTokenHash string // /stats 用トークンのbcryptハッシュ
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// Telegram設定
		BotToken:        getEnv("BOT_TOKEN", ""),
		ChannelUsername: getEnv("CHANNEL_NAME", ""),
		WebhookURL:      getEnv("WEBHOOK_URL", ""),

		// サーバー設定
		Port:    getEnv("PORT", "6400"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// キャッシュ設定
		RedisURL: getEnv("CACHE_REDIS_URL", "redis://127.0.0.1:6379/0"),

		// 抽出ワーカー設定
		PythonPath:      getEnv("PYTHON_PATH", "python3"),
		ProcessorScript: getEnv("PROCESSOR_SCRIPT", "file_processor.py"),
		OutputDir:       getEnv("OUTPUT_DIR", "output"),

		// ジョブ/キュー設定
		ListTimeoutSeconds:  getEnvAsInt("LIST_TIMEOUT_SECONDS", 15),
		DumpTimeoutSeconds:  getEnvAsInt("DUMP_TIMEOUT_SECONDS", 60),
		QueueSweepSeconds:   getEnvAsInt("QUEUE_SWEEP_SECONDS", 1),
		MaxQueueHoldSeconds: getEnvAsInt("MAX_QUEUE_HOLD_SECONDS", 120),

		// 配信リトライ設定
		MaxUploadRetries:     getEnvAsInt("MAX_UPLOAD_RETRIES", 3),
		RetryIntervalSeconds: getEnvAsInt("RETRY_INTERVAL_SECONDS", 5),

		// 管理エンドポイント設定
		StatsTokenHash: getEnv("STATS_TOKEN_HASH", ""),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.ListTimeoutSeconds <= 0 {
		return fmt.Errorf("LIST_TIMEOUT_SECONDS must be positive")
	}
	if c.DumpTimeoutSeconds <= 0 {
		return fmt.Errorf("DUMP_TIMEOUT_SECONDS must be positive")
	}
	if c.MaxUploadRetries <= 0 {
		return fmt.Errorf("MAX_UPLOAD_RETRIES must be positive")
	}

	// ローカル開発ではWebhook/管理設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required in release mode")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("CACHE_REDIS_URL is required in release mode")
		}
		if c.StatsTokenHash == "" {
			return fmt.Errorf("STATS_TOKEN_HASH is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
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
