// Package main はWebhookサーバーのエントリーポイントです。
package main

import (
	"log"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/payload-relay/internal/bot"
	"github.com/yourusername/payload-relay/internal/cache"
	"github.com/yourusername/payload-relay/internal/config"
	"github.com/yourusername/payload-relay/internal/dumper"
	"github.com/yourusername/payload-relay/internal/queue"
	"github.com/yourusername/payload-relay/internal/telegram"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	logger := log.Default()

	// Redisキャッシュとジョブ実行基盤の配線
	store, err := setupCache(cfg)
	if err != nil {
		log.Fatalf("Failed to connect cache: %v", err)
	}

	gate := queue.New(
		time.Duration(cfg.MaxQueueHoldSeconds)*time.Second,
		time.Duration(cfg.QueueSweepSeconds)*time.Second,
		logger,
	)
	defer gate.Close()

	runner := dumper.NewRunner(cfg.PythonPath, cfg.ProcessorScript, cfg.OutputDir, logger)

	chat, err := telegram.NewClient(cfg.BotToken, logger)
	if err != nil {
		log.Fatalf("Failed to create bot client: %v", err)
	}
	if cfg.WebhookURL != "" {
		if err := chat.RegisterWebhook(cfg.WebhookURL); err != nil {
			log.Fatalf("Failed to register webhook: %v", err)
		}
	}

	service, err := bot.NewService(cfg, chat, store, gate, runner, logger)
	if err != nil {
		log.Fatalf("Failed to create bot service: %v", err)
	}

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
	}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, service, gate)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting webhook server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func setupCache(cfg *config.Config) (*cache.Store, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return cache.NewStore(redis.NewClient(opt)), nil
}
