package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/yourusername/payload-relay/internal/auth"
	"github.com/yourusername/payload-relay/internal/bot"
	"github.com/yourusername/payload-relay/internal/config"
	"github.com/yourusername/payload-relay/internal/queue"
)

// setupRoutes はWebhook受信と運用系エンドポイントの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, service *bot.Service, gate *queue.Queue) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	router.POST("/webhook", webhookHandler(service))

	// 運用統計はBearerトークンで保護する
	router.GET("/stats", auth.RequireStatsToken(cfg.StatsTokenHash), statsHandler(service, gate))
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "payload-relay",
		"version": "0.1.0",
	})
}

// webhookHandler は更新を受理し、処理はバックグラウンドで続行します。
// Telegram側の再送を避けるため応答は常に200を返します。
func webhookHandler(service *bot.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var update tgbotapi.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "更新ペイロードの解析に失敗しました。",
			})
			return
		}

		// リクエストのcontextは応答後に破棄されるため引き継がない
		go service.HandleUpdate(context.Background(), update)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func statsHandler(service *bot.Service, gate *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"queueDepth":    gate.Len(),
			"queue":         gate.Snapshot(),
			"activeUsers":   service.Sessions().Size(),
			"queueCapacity": 1,
		})
	}
}
